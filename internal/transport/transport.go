// Package transport is the boundary between the helpdesk and the chat
// network its end users write from.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

// ErrUnsupported is returned for operations a transport cannot perform.
var ErrUnsupported = errors.New("transport: unsupported operation")

// Button is one inline keyboard button. A button with a URL opens the
// link instead of sending Data back as a callback.
type Button struct {
	Text string
	Data string
	URL  string
}

// Transport sends to and fetches from end user chats. Every returned
// message id is the network's identifier for the sent message.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendTextWithButtons(ctx context.Context, chatID int64, text string, rows [][]Button) (int64, error)
	// SendTopicText posts into one forum topic of a group chat. rows may
	// be empty.
	SendTopicText(ctx context.Context, chatID, threadID int64, text string, rows [][]Button) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, path, caption string) (int64, error)
	SendDocument(ctx context.Context, chatID int64, path, caption string) (int64, error)
	EditText(ctx context.Context, chatID, messageID int64, text string) error
	EditCaption(ctx context.Context, chatID, messageID int64, caption string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	// Download streams a file previously received in an Update.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Source produces inbound updates, whether they arrive by long polling
// or webhook. The channel closes when ctx is done.
type Source interface {
	Updates(ctx context.Context) <-chan Update
}

// File is a downloadable file attached to an inbound message.
type File struct {
	ID       string
	Name     string
	MIMEType string
	Type     models.FileType
}

// Callback is an inline button press.
type Callback struct {
	ID        string
	Data      string
	MessageID int64
}

// Update is one raw inbound unit.
type Update struct {
	ID        int64
	AccountID int64
	MessageID int64
	// Text holds the message text or the media caption.
	Text string
	// Command is the bot command without the slash, e.g. "start".
	Command      string
	Edited       bool
	Voice        bool
	MediaGroupID string
	Files        []File
	Callback     *Callback
	Date         time.Time
}

// IsCallback reports whether the update is a button press.
func (u Update) IsCallback() bool { return u.Callback != nil }

// HasFiles reports whether the update carries attachments.
func (u Update) HasFiles() bool { return len(u.Files) > 0 }
