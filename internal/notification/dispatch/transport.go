// Package dispatch renders and sends notification emails through the
// configured transport.
package dispatch

import (
	"context"
	"fmt"
	"time"

	awsclient "enrollment-notifier/internal/common/aws"
	"enrollment-notifier/internal/common/config"
	httpclient "enrollment-notifier/internal/common/http"
	"enrollment-notifier/internal/notification/attachment"
)

// Message is one outgoing email. Attachments are local files.
type Message struct {
	From        string
	FromName    string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []attachment.File
}

// Recipients returns every envelope recipient, bcc included.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	return append(out, m.BCC...)
}

type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ExtensionBlocker is implemented by transports that reject some attachment
// types outright.
type ExtensionBlocker interface {
	BlockedExtensions() []string
}

// NewTransport builds the transport named by cfg.Transport.
func NewTransport(ctx context.Context, cfg config.NotificationConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportSMTP:
		return NewSMTPMailer(cfg.SMTP), nil
	case config.TransportSES:
		client, err := awsclient.NewSESClient(ctx, cfg.SES.Region)
		if err != nil {
			return nil, fmt.Errorf("create ses client: %w", err)
		}
		return NewSESMailer(client), nil
	case config.TransportInfobip:
		client := httpclient.NewClient(time.Duration(cfg.SendTimeout) * time.Millisecond)
		return NewInfobipTransport(cfg.Infobip, client, cfg.BlockedExtensions), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
	}
}
