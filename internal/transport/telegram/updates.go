package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// Poller receives updates by long polling.
type Poller struct {
	bot     *Bot
	timeout int
}

var _ transport.Source = (*Poller)(nil)

// Poller returns a long polling Source with the given poll timeout in seconds.
func (b *Bot) Poller(timeout int) *Poller {
	if timeout <= 0 {
		timeout = 60
	}
	return &Poller{bot: b, timeout: timeout}
}

func (p *Poller) Updates(ctx context.Context) <-chan transport.Update {
	out := make(chan transport.Update)
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	in := p.bot.raw.GetUpdatesChan(cfg)

	go func() {
		defer close(out)
		defer p.bot.raw.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				u, ok := convertUpdate(raw)
				if !ok {
					continue
				}
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

// SecretTokenHeader carries the webhook secret on every delivery.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Webhook receives updates pushed by Telegram. It is an http.Handler to
// be mounted on the public webhook path.
type Webhook struct {
	bot     *Bot
	secret  string
	updates chan transport.Update
}

var (
	_ transport.Source = (*Webhook)(nil)
	_ http.Handler     = (*Webhook)(nil)
)

// Webhook registers url with Telegram together with secret, which
// Telegram then sends back in SecretTokenHeader. Deliveries without the
// matching header are refused.
func (b *Bot) Webhook(ctx context.Context, url, secret string) (*Webhook, error) {
	if secret == "" {
		return nil, errors.New("telegram: webhook secret is empty")
	}
	if _, err := tgbotapi.NewWebhook(url); err != nil {
		return nil, fmt.Errorf("telegram: webhook url: %w", err)
	}
	// secret_token is not modelled by WebhookConfig, so the call is made
	// with raw parameters.
	params := tgbotapi.Params{"url": url, "secret_token": secret}
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return b.api.MakeRequest("setWebhook", params) })
	if err != nil {
		return nil, fmt.Errorf("telegram: set webhook: %w", err)
	}
	return newWebhook(b, secret), nil
}

func newWebhook(b *Bot, secret string) *Webhook {
	return &Webhook{bot: b, secret: secret, updates: make(chan transport.Update, 100)}
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
		w.bot.logger.Printf("webhook: rejected delivery from %s with bad secret", r.RemoteAddr)
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var raw tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		w.bot.logger.Printf("webhook: %v", err)
		http.Error(rw, "bad update", http.StatusBadRequest)
		return
	}
	if u, ok := convertUpdate(raw); ok {
		select {
		case w.updates <- u:
		case <-r.Context().Done():
			http.Error(rw, "timeout", http.StatusServiceUnavailable)
			return
		}
	}
	rw.WriteHeader(http.StatusOK)
}

// Updates returns the shared webhook channel. It is never closed because
// the HTTP server may still deliver.
func (w *Webhook) Updates(context.Context) <-chan transport.Update {
	return w.updates
}

func convertUpdate(raw tgbotapi.Update) (transport.Update, bool) {
	u := transport.Update{ID: int64(raw.UpdateID)}
	switch {
	case raw.CallbackQuery != nil:
		cq := raw.CallbackQuery
		u.Callback = &transport.Callback{ID: cq.ID, Data: cq.Data}
		if cq.From != nil {
			u.AccountID = cq.From.ID
		}
		if cq.Message != nil {
			u.Callback.MessageID = int64(cq.Message.MessageID)
			if cq.Message.Chat != nil {
				u.AccountID = cq.Message.Chat.ID
			}
		}
		u.Date = time.Now()
		return u, true
	case raw.EditedMessage != nil:
		fillMessage(&u, raw.EditedMessage)
		u.Edited = true
		return u, true
	case raw.Message != nil:
		fillMessage(&u, raw.Message)
		return u, true
	}
	return u, false
}

func fillMessage(u *transport.Update, m *tgbotapi.Message) {
	u.MessageID = int64(m.MessageID)
	if m.Chat != nil {
		u.AccountID = m.Chat.ID
	} else if m.From != nil {
		u.AccountID = m.From.ID
	}
	u.Date = m.Time()
	u.Text = m.Text
	if u.Text == "" {
		u.Text = m.Caption
	}
	if m.IsCommand() {
		u.Command = strings.ToLower(m.Command())
	}
	u.MediaGroupID = m.MediaGroupID
	u.Voice = m.Voice != nil || m.VideoNote != nil

	if n := len(m.Photo); n > 0 {
		largest := m.Photo[n-1]
		u.Files = append(u.Files, transport.File{
			ID:       largest.FileID,
			Name:     largest.FileUniqueID + ".jpg",
			MIMEType: "image/jpeg",
			Type:     models.FileImage,
		})
	}
	if d := m.Document; d != nil {
		ft := models.FileDocument
		if strings.HasPrefix(d.MimeType, "image/") {
			ft = models.FileImage
		}
		name := d.FileName
		if name == "" {
			name = d.FileUniqueID
		}
		u.Files = append(u.Files, transport.File{ID: d.FileID, Name: name, MIMEType: d.MimeType, Type: ft})
	}
}
