package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/mail"
	"os"
	"strings"

	"enrollment-notifier/internal/common/config"
	httpclient "enrollment-notifier/internal/common/http"
	"enrollment-notifier/internal/notification/attachment"
)

const infobipSendPath = "/email/3/send"

// InfobipTransport posts messages to the Infobip email API as multipart
// form data, one part per recipient and per attachment.
type InfobipTransport struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
	blocked []string
}

func NewInfobipTransport(cfg config.InfobipConfig, client *httpclient.Client, blocked []string) *InfobipTransport {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &InfobipTransport{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  client,
		blocked: blocked,
	}
}

func (t *InfobipTransport) Name() string {
	return "infobip"
}

// BlockedExtensions lists extensions the API refuses; such files are renamed
// before upload.
func (t *InfobipTransport) BlockedExtensions() []string {
	if len(t.blocked) > 0 {
		return t.blocked
	}
	return attachment.DefaultBlockedExtensions
}

func (t *InfobipTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	body, contentType, err := t.buildForm(msg)
	if err != nil {
		return fmt.Errorf("build infobip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+infobipSendPath, body)
	if err != nil {
		return fmt.Errorf("create infobip request: %w", err)
	}
	req.Header.Set("Authorization", "App "+t.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("infobip request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("infobip returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *InfobipTransport) buildForm(msg Message) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	from := msg.From
	if msg.FromName != "" {
		from = (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
	}

	fields := [][2]string{{"from", from}}
	for _, to := range msg.To {
		fields = append(fields, [2]string{"to", to})
	}
	for _, cc := range msg.CC {
		fields = append(fields, [2]string{"cc", cc})
	}
	for _, bcc := range msg.BCC {
		fields = append(fields, [2]string{"bcc", bcc})
	}
	fields = append(fields, [2]string{"subject", msg.Subject})
	if msg.IsHTML {
		fields = append(fields, [2]string{"html", msg.Body})
	} else {
		fields = append(fields, [2]string{"text", msg.Body})
	}
	fields = append(fields,
		[2]string{"track", "false"},
		[2]string{"trackClicks", "false"},
		[2]string{"trackOpens", "false"},
	)

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for _, a := range msg.Attachments {
		if err := addFormFile(w, a); err != nil {
			return nil, "", fmt.Errorf("attach %s: %w", a.DisplayName, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func addFormFile(w *multipart.Writer, a attachment.File) error {
	file, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	part, err := w.CreateFormFile("attachment", a.DisplayName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
