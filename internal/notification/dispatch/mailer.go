package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"time"

	awsclient "enrollment-notifier/internal/common/aws"
	"enrollment-notifier/internal/common/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/emersion/go-message/mail"
)

const (
	ProviderSMTP = "smtp"
	ProviderSES  = "ses"
)

// Mailer sends MIME messages through an SMTP relay or SES raw email.
type Mailer struct {
	provider string
	smtp     config.SMTPConfig
	ses      awsclient.SESAPI
	now      func() time.Time
}

func NewSMTPMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{provider: ProviderSMTP, smtp: cfg, now: time.Now}
}

func NewSESMailer(client awsclient.SESAPI) *Mailer {
	return &Mailer{provider: ProviderSES, ses: client, now: time.Now}
}

func (m *Mailer) Name() string {
	return m.provider
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	raw, err := BuildMIME(msg, m.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	switch m.provider {
	case ProviderSMTP:
		return m.sendSMTP(ctx, msg, raw)
	case ProviderSES:
		return m.sendSES(ctx, msg, raw)
	default:
		return fmt.Errorf("unsupported mail provider %q", m.provider)
	}
}

func (m *Mailer) sendSMTP(ctx context.Context, msg Message, raw []byte) error {
	addr := net.JoinHostPort(m.smtp.Host, strconv.Itoa(m.smtp.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.smtp.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if m.smtp.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.smtp.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.smtp.Username != "" {
		auth := smtp.PlainAuth("", m.smtp.Username, m.smtp.Password, m.smtp.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (m *Mailer) sendSES(ctx context.Context, msg Message, raw []byte) error {
	_, err := m.ses.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(msg.From),
		Destinations: msg.Recipients(),
		RawMessage:   &sestypes.RawMessage{Data: raw},
	})
	if err != nil {
		return fmt.Errorf("ses send raw email: %w", err)
	}
	return nil
}

// BuildMIME renders msg as a multipart message. Bcc is left out of the
// headers; it only appears in the envelope.
func BuildMIME(msg Message, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.From}})
	h.SetAddressList("To", addressList(msg.To))
	if len(msg.CC) > 0 {
		h.SetAddressList("Cc", addressList(msg.CC))
	}
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	if msg.IsHTML {
		th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	} else {
		th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	}
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(pw, msg.Body); err != nil {
		return nil, err
	}
	pw.Close()
	tw.Close()

	for _, f := range msg.Attachments {
		if err := writeAttachment(mw, f.Path, f.DisplayName); err != nil {
			return nil, fmt.Errorf("attach %s: %w", f.DisplayName, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAttachment(mw *mail.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(name)

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := io.Copy(aw, file); err != nil {
		aw.Close()
		return err
	}
	return aw.Close()
}

func addressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
