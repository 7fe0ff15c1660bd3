// Package telegram adapts the Telegram Bot API to the transport interfaces.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// api is the subset of *tgbotapi.BotAPI the adapter calls.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot implements transport.Transport on top of the Bot API.
type Bot struct {
	api    api
	raw    *tgbotapi.BotAPI
	client *http.Client
	logger *log.Logger
}

var _ transport.Transport = (*Bot)(nil)

// Option configures a Bot.
type Option func(*Bot)

// WithLogger overrides the adapter logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithHTTPClient sets the client used for file downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) {
		if c != nil {
			b.client = c
		}
	}
}

// New authenticates against the Bot API with token.
func New(token string, opts ...Option) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	b := newBot(botAPI, opts...)
	b.raw = botAPI
	b.logger.Printf("authorized as @%s", botAPI.Self.UserName)
	return b, nil
}

func newBot(a api, opts ...Option) *Bot {
	b := &Bot{
		api:    a,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: log.New(os.Stdout, "[TELEGRAM] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// call runs a blocking Bot API call, giving up when ctx is done. The
// library has no context support so an abandoned call finishes in the
// background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (int64, error) {
	msg, err := call(ctx, func() (tgbotapi.Message, error) { return b.api.Send(c) })
	if err != nil {
		return 0, err
	}
	return int64(msg.MessageID), nil
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return b.api.Request(c) })
	if isNotModified(err) {
		return nil
	}
	return err
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	return b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) SendTextWithButtons(ctx context.Context, chatID int64, text string, rows [][]transport.Button) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard(rows)
	return b.send(ctx, msg)
}

// SendTopicText goes through raw parameters because MessageConfig has no
// message_thread_id.
func (b *Bot) SendTopicText(ctx context.Context, chatID, threadID int64, text string, rows [][]transport.Button) (int64, error) {
	params := tgbotapi.Params{"text": text}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", threadID)
	if len(rows) > 0 {
		if err := params.AddInterface("reply_markup", keyboard(rows)); err != nil {
			return 0, err
		}
	}
	resp, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return b.api.MakeRequest("sendMessage", params) })
	if err != nil {
		return 0, err
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("decode sent message: %w", err)
	}
	return int64(msg.MessageID), nil
}

func (b *Bot) SendPhoto(ctx context.Context, chatID int64, path, caption string) (int64, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	return b.send(ctx, photo)
}

func (b *Bot) SendDocument(ctx context.Context, chatID int64, path, caption string) (int64, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	return b.send(ctx, doc)
}

func (b *Bot) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	return b.request(ctx, tgbotapi.NewEditMessageText(chatID, int(messageID), text))
}

func (b *Bot) EditCaption(ctx context.Context, chatID, messageID int64, caption string) error {
	return b.request(ctx, tgbotapi.NewEditMessageCaption(chatID, int(messageID), caption))
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return b.request(ctx, tgbotapi.NewDeleteMessage(chatID, int(messageID)))
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return b.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

// Download resolves the file URL through the Bot API and streams it.
func (b *Bot) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := call(ctx, func() (string, error) { return b.api.GetFileDirectURL(fileID) })
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	return resp.Body, nil
}

func keyboard(rows [][]transport.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

// isNotModified matches the error Telegram returns when an edit leaves
// the message unchanged.
func isNotModified(err error) bool {
	if err == nil {
		return false
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return strings.Contains(tgErr.Message, "message is not modified")
	}
	return strings.Contains(err.Error(), "message is not modified")
}
