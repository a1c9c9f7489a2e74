package senders

import (
	"context"
	"net/http"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

const alertTag = "pushpanel-alert"

type mailgunSender struct {
	base
	mg      mailgun.Mailgun
	timeout time.Duration
}

func newMailgunSender(b base) *mailgunSender {
	// NewMailgun hands out http.DefaultClient; swapping its transport would leak process-wide.
	mg := mailgun.NewMailgun(b.cfg.Mailgun.Domain, b.cfg.Mailgun.APIKey)
	mg.SetClient(&http.Client{Transport: b.transport})

	timeout := time.Duration(b.cfg.Mailgun.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &mailgunSender{b, mg, timeout}
}

// Send mails an HTML operator alert. Alerts carry a fixed tag so they can be filtered in the
// Mailgun dashboard.
func (e *mailgunSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	message := e.mg.NewMessage(e.cfg.Mailgun.SenderFrom, subject, "", recipient)
	message.SetHtml(body)
	if err := message.AddTag(alertTag); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	status, id, err := e.mg.Send(ctx, message)
	if err != nil {
		e.log.Sugar().Warnw("Mailgun send failed", "recipient", recipient, "subject", subject, "err", err)
		return "", err
	}
	e.log.Sugar().Debugw("Alert mailed", "recipient", recipient, "message_id", id, "status", status)
	return id, nil
}
