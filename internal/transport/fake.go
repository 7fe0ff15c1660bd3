package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Sent is one call recorded by Fake.
type Sent struct {
	Op        string
	ChatID    int64
	ThreadID  int64
	MessageID int64
	Text      string
	Path      string
	Buttons   [][]Button
}

// Fake is an in-memory Transport and Source for tests.
type Fake struct {
	mu      sync.Mutex
	nextID  int64
	sent    []Sent
	files   map[string][]byte
	fail    map[string]error
	updates chan Update

	// Delay makes every send wait, honoring ctx.
	Delay time.Duration
}

var (
	_ Transport = (*Fake)(nil)
	_ Source    = (*Fake)(nil)
)

// NewFake creates a Fake whose first sent message gets id 1000.
func NewFake() *Fake {
	return &Fake{
		nextID:  1000,
		files:   make(map[string][]byte),
		fail:    make(map[string]error),
		updates: make(chan Update, 64),
	}
}

// AddFile makes fileID downloadable.
func (f *Fake) AddFile(fileID string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileID] = content
}

// FailOn makes every call of op return err until cleared with a nil err.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Sent returns a copy of every recorded call.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo returns the recorded calls for one chat.
func (f *Fake) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Push queues an inbound update for Updates.
func (f *Fake) Push(u Update) { f.updates <- u }

func (f *Fake) Updates(ctx context.Context) <-chan Update {
	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-f.updates:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (f *Fake) record(ctx context.Context, s Sent, assignID bool) (int64, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[s.Op]; err != nil {
		return 0, err
	}
	if assignID {
		f.nextID++
		s.MessageID = f.nextID
	}
	f.sent = append(f.sent, s)
	return s.MessageID, nil
}

func (f *Fake) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	return f.record(ctx, Sent{Op: "text", ChatID: chatID, Text: text}, true)
}

func (f *Fake) SendTextWithButtons(ctx context.Context, chatID int64, text string, rows [][]Button) (int64, error) {
	return f.record(ctx, Sent{Op: "buttons", ChatID: chatID, Text: text, Buttons: rows}, true)
}

func (f *Fake) SendTopicText(ctx context.Context, chatID, threadID int64, text string, rows [][]Button) (int64, error) {
	return f.record(ctx, Sent{Op: "topic", ChatID: chatID, ThreadID: threadID, Text: text, Buttons: rows}, true)
}

func (f *Fake) SendPhoto(ctx context.Context, chatID int64, path, caption string) (int64, error) {
	return f.record(ctx, Sent{Op: "photo", ChatID: chatID, Text: caption, Path: path}, true)
}

func (f *Fake) SendDocument(ctx context.Context, chatID int64, path, caption string) (int64, error) {
	return f.record(ctx, Sent{Op: "document", ChatID: chatID, Text: caption, Path: path}, true)
}

func (f *Fake) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := f.record(ctx, Sent{Op: "edit_text", ChatID: chatID, MessageID: messageID, Text: text}, false)
	return err
}

func (f *Fake) EditCaption(ctx context.Context, chatID, messageID int64, caption string) error {
	_, err := f.record(ctx, Sent{Op: "edit_caption", ChatID: chatID, MessageID: messageID, Text: caption}, false)
	return err
}

func (f *Fake) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := f.record(ctx, Sent{Op: "delete", ChatID: chatID, MessageID: messageID}, false)
	return err
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := f.record(ctx, Sent{Op: "answer", Text: callbackID + ":" + text}, false)
	return err
}

func (f *Fake) Download(_ context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["download"]; err != nil {
		return nil, err
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
