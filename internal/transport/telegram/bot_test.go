package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

type fakeAPI struct {
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
	raw       map[string]tgbotapi.Params
	sendErr   error
	reqErr    error
	fileURL   string
	block     chan struct{}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.block != nil {
		<-f.block
	}
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: 77}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if f.reqErr != nil {
		return nil, f.reqErr
	}
	f.requested = append(f.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	if f.reqErr != nil {
		return nil, f.reqErr
	}
	if f.raw == nil {
		f.raw = make(map[string]tgbotapi.Params)
	}
	f.raw[endpoint] = params
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`{"message_id":78}`)}, nil
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) { return f.fileURL, nil }

func quietBot(a api) *Bot {
	return newBot(a, WithLogger(log.New(io.Discard, "", 0)))
}

func TestBot_SendTextWithButtons(t *testing.T) {
	fa := &fakeAPI{}
	b := quietBot(fa)

	id, err := b.SendTextWithButtons(context.Background(), 5, "Rate us", [][]transport.Button{
		{{Text: "👍", Data: "rate_42_up"}, {Text: "👎", Data: "rate_42_down"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	require.Len(t, fa.sent, 1)
	msg, ok := fa.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), msg.ChatID)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, "rate_42_up", *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "rate_42_down", *markup.InlineKeyboard[0][1].CallbackData)
}

func TestBot_SendTextWithURLButton(t *testing.T) {
	fa := &fakeAPI{}
	b := quietBot(fa)

	_, err := b.SendTextWithButtons(context.Background(), 5, "Assigned", [][]transport.Button{
		{{Text: "Open ticket", URL: "https://desk.example.com/tickets/42"}},
		{{Text: "Send history here", Data: "history_42"}},
	})
	require.NoError(t, err)

	msg := fa.sent[0].(tgbotapi.MessageConfig)
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	open := markup.InlineKeyboard[0][0]
	require.NotNil(t, open.URL)
	assert.Equal(t, "https://desk.example.com/tickets/42", *open.URL)
	assert.Nil(t, open.CallbackData)
	assert.Equal(t, "history_42", *markup.InlineKeyboard[1][0].CallbackData)
}

func TestBot_SendTopicText(t *testing.T) {
	fa := &fakeAPI{}
	b := quietBot(fa)

	id, err := b.SendTopicText(context.Background(), -1001, 7, "Ticket #42 reassigned to olga", [][]transport.Button{
		{{Text: "Open ticket", URL: "https://desk.example.com/tickets/42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(78), id)

	params := fa.raw["sendMessage"]
	assert.Equal(t, "-1001", params["chat_id"])
	assert.Equal(t, "7", params["message_thread_id"])
	assert.Equal(t, "Ticket #42 reassigned to olga", params["text"])
	assert.Contains(t, params["reply_markup"], `"url":"https://desk.example.com/tickets/42"`)
}

func TestBot_SendPhotoCarriesCaption(t *testing.T) {
	fa := &fakeAPI{}
	b := quietBot(fa)
	_, err := b.SendPhoto(context.Background(), 5, "/data/a.jpg", "hello")
	require.NoError(t, err)
	photo, ok := fa.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "hello", photo.Caption)
	assert.Equal(t, tgbotapi.FilePath("/data/a.jpg"), photo.File)
}

func TestBot_EditIgnoresNotModified(t *testing.T) {
	fa := &fakeAPI{reqErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	b := quietBot(fa)
	assert.NoError(t, b.EditText(context.Background(), 1, 2, "same"))

	fa.reqErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}
	assert.Error(t, b.EditCaption(context.Background(), 1, 2, "x"))
}

func TestBot_SendHonorsContext(t *testing.T) {
	fa := &fakeAPI{block: make(chan struct{})}
	defer close(fa.block)
	b := quietBot(fa)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.SendText(ctx, 1, "hi")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBot_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("blob"))
	}))
	defer srv.Close()

	b := quietBot(&fakeAPI{fileURL: srv.URL + "/file"})
	rc, err := b.Download(context.Background(), "abc")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "blob", string(data))
}

func TestConvertUpdate(t *testing.T) {
	chat := &tgbotapi.Chat{ID: 900}

	u, ok := convertUpdate(tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		MessageID: 10, Chat: chat, Date: 1700000000, Text: "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}})
	require.True(t, ok)
	assert.Equal(t, int64(900), u.AccountID)
	assert.Equal(t, "start", u.Command)
	assert.Equal(t, time.Unix(1700000000, 0), u.Date)

	u, ok = convertUpdate(tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{
		MessageID: 11, Chat: chat, Caption: "look", MediaGroupID: "g1",
		Photo: []tgbotapi.PhotoSize{{FileID: "small", FileUniqueID: "s"}, {FileID: "big", FileUniqueID: "b"}},
	}})
	require.True(t, ok)
	assert.Equal(t, "look", u.Text)
	assert.Equal(t, "g1", u.MediaGroupID)
	require.Len(t, u.Files, 1)
	assert.Equal(t, "big", u.Files[0].ID)
	assert.Equal(t, models.FileImage, u.Files[0].Type)

	u, ok = convertUpdate(tgbotapi.Update{UpdateID: 3, Message: &tgbotapi.Message{
		MessageID: 12, Chat: chat,
		Document: &tgbotapi.Document{FileID: "d", FileName: "report.pdf", MimeType: "application/pdf"},
	}})
	require.True(t, ok)
	assert.Equal(t, models.FileDocument, u.Files[0].Type)
	assert.Equal(t, "report.pdf", u.Files[0].Name)

	u, ok = convertUpdate(tgbotapi.Update{UpdateID: 4, Message: &tgbotapi.Message{
		MessageID: 13, Chat: chat, Voice: &tgbotapi.Voice{FileID: "v"},
	}})
	require.True(t, ok)
	assert.True(t, u.Voice)

	u, ok = convertUpdate(tgbotapi.Update{UpdateID: 5, EditedMessage: &tgbotapi.Message{
		MessageID: 10, Chat: chat, Text: "fixed",
	}})
	require.True(t, ok)
	assert.True(t, u.Edited)
	assert.Equal(t, int64(10), u.MessageID)

	u, ok = convertUpdate(tgbotapi.Update{UpdateID: 6, CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", Data: "rate_42_up", From: &tgbotapi.User{ID: 900},
		Message: &tgbotapi.Message{MessageID: 14, Chat: chat},
	}})
	require.True(t, ok)
	require.True(t, u.IsCallback())
	assert.Equal(t, "rate_42_up", u.Callback.Data)
	assert.Equal(t, int64(900), u.AccountID)

	_, ok = convertUpdate(tgbotapi.Update{UpdateID: 7})
	assert.False(t, ok)
}
