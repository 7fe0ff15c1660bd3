package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rateUpdate = `{"update_id":9,"callback_query":{"id":"cb","from":{"id":100},"data":"rate_42_down"}}`

func deliver(w *Webhook, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, req)
	return rec
}

func TestBot_WebhookRegistersSecret(t *testing.T) {
	fa := &fakeAPI{}
	b := quietBot(fa)

	w, err := b.Webhook(context.Background(), "https://example.com/telegram/webhook", "s3cret")
	require.NoError(t, err)
	require.NotNil(t, w)
	params := fa.raw["setWebhook"]
	assert.Equal(t, "https://example.com/telegram/webhook", params["url"])
	assert.Equal(t, "s3cret", params["secret_token"])

	_, err = b.Webhook(context.Background(), "https://example.com/telegram/webhook", "")
	assert.Error(t, err)
}

func TestWebhook_RejectsUnsignedDelivery(t *testing.T) {
	w := newWebhook(quietBot(&fakeAPI{}), "s3cret")

	for _, secret := range []string{"", "guess", "s3cret-and-more"} {
		rec := deliver(w, rateUpdate, secret)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "secret %q", secret)
	}
	select {
	case u := <-w.updates:
		t.Fatalf("forged update reached the channel: %+v", u)
	default:
	}
}

func TestWebhook_AcceptsSignedDelivery(t *testing.T) {
	w := newWebhook(quietBot(&fakeAPI{}), "s3cret")

	rec := deliver(w, rateUpdate, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case u := <-w.Updates(context.Background()):
		require.True(t, u.IsCallback())
		assert.Equal(t, int64(100), u.AccountID)
		assert.Equal(t, "rate_42_down", u.Callback.Data)
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}

	assert.Equal(t, http.StatusBadRequest, deliver(w, "{", "s3cret").Code)
}
