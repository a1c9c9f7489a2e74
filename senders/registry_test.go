package senders

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewSenderRegistry_MailgunNotConfigured(t *testing.T) {
	registry := NewSenderRegistry(fxtest.NewLifecycle(t), zaptest.NewLogger(t), &config.Config{}, http.DefaultTransport)
	assert.Empty(t, registry)
}

func TestMailgunSender(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mailgun.Domain = "mg.example.com"
	cfg.Mailgun.APIKey = "key-test"
	cfg.Mailgun.SenderFrom = "pushpanel@mg.example.com"
	cfg.Mailgun.TimeoutSecs = 5

	var captured *http.Request
	var capturedBody string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		b, _ := io.ReadAll(r.Body)
		capturedBody = string(b)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"id":"<20240501.1@mg.example.com>","message":"Queued. Thank you."}`)),
			Request:    r,
		}, nil
	})

	registry := NewSenderRegistry(fxtest.NewLifecycle(t), zaptest.NewLogger(t), cfg, transport)
	sender, ok := registry["email"]
	require.True(t, ok)

	id, err := sender.Send(context.Background(), "Sync failed", "<b>oops</b>", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "<20240501.1@mg.example.com>", id)

	require.NotNil(t, captured)
	assert.Contains(t, captured.URL.Path, "/mg.example.com/messages")
	assert.Contains(t, capturedBody, "ops@example.com")
	assert.Contains(t, capturedBody, "Sync failed")
	assert.Contains(t, capturedBody, "pushpanel-alert")
	assert.Nil(t, http.DefaultClient.Transport, "the shared default client is left untouched")
}

func TestMailgunSender_Failure(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mailgun.Domain = "mg.example.com"
	cfg.Mailgun.APIKey = "key-test"
	cfg.Mailgun.SenderFrom = "pushpanel@mg.example.com"

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader("Forbidden")),
			Request:    r,
		}, nil
	})

	sender := newMailgunSender(base{zaptest.NewLogger(t), cfg, transport})
	assert.Equal(t, 10*time.Second, sender.timeout)

	id, err := sender.Send(context.Background(), "Sync failed", "<b>oops</b>", "ops@example.com")
	assert.Error(t, err)
	assert.Empty(t, id)
}
