package senders

import (
	"context"
	"net/http"

	"github.com/fiffu/pushpanel/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers one operator message and returns the channel's message id.
type Sender interface {
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	registry := Registry{}

	if cfg.MailgunConfigured() {
		registry["email"] = newMailgunSender(base{log, cfg, transport})
	} else {
		log.Sugar().Info("Mailgun is not configured, operator alerts will only be logged")
	}
	return registry
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
