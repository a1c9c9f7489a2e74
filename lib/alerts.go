package lib

import (
	"context"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/senders"
	"github.com/fiffu/pushpanel/senders/email"
	"go.uber.org/zap"
)

type operatorAlerts struct {
	cfg     *config.Config
	log     *zap.Logger
	senders senders.Registry
}

// notify emails every configured alert recipient. Delivery failures are logged only.
func (a *operatorAlerts) notify(ctx context.Context, ef email.Format) {
	sender, ok := a.senders["email"]
	if !ok || len(a.cfg.Mailgun.AlertRecipients) == 0 {
		a.log.Sugar().Warnw("No alert channel configured, alert dropped", "subject", ef.Subject())
		return
	}

	// The request may already be gone; the alert should still go out.
	ctx = context.WithoutCancel(ctx)

	subject, body := ef.Subject(), ef.Body()
	for _, recipient := range a.cfg.Mailgun.AlertRecipients {
		if _, err := sender.Send(ctx, subject, body, recipient); err != nil {
			a.log.Sugar().Warnw("Failed to send alert", "recipient", recipient, "subject", subject, "err", err)
		}
	}
}
