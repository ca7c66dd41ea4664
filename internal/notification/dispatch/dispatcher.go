package dispatch

import (
	"context"
	"fmt"
	"time"

	"enrollment-notifier/internal/common/config"
	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/common/metrics"
	"enrollment-notifier/internal/common/observability"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/notification/attachment"
	"enrollment-notifier/internal/notification/recipient"
	"enrollment-notifier/internal/notification/template"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultSendTimeout = 30 * time.Second

type VariableResolver interface {
	ResolveVariables(ctx context.Context, def models.NotificationDefinition, c template.Context) (template.Variables, error)
}

type AttachmentSource interface {
	ForNotification(ctx context.Context, notificationID int64) ([]attachment.Ref, error)
	Materialize(ctx context.Context, refs []attachment.Ref, blocked []string) (*attachment.Bundle, error)
}

// Result is the outcome of one logical send.
type Result struct {
	Recipient  string `json:"recipient"`
	EnrolleeID *int64 `json:"enrolleeId,omitempty"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

// Delivery aggregates the results of one notification across its envelopes.
// Resolution failures are included as failed results. Batches (enrollee ids,
// status matches, split addresses) always report Success; a single literal
// message reports the outcome of its one send.
type Delivery struct {
	Success bool           `json:"success"`
	Mode    recipient.Mode `json:"mode"`
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
	Results []Result       `json:"results"`
}

type DeliverOptions struct {
	// CoverageStartDate overrides the coverage_start_date variable.
	CoverageStartDate string
	// Files are sent in addition to the notification's stored attachments.
	Files []attachment.File
	Now   time.Time
}

type Dispatcher struct {
	transport   Transport
	variables   VariableResolver
	attachments AttachmentSource
	from        string
	fromName    string
	timeout     time.Duration
	logger      logger.Logger
}

func NewDispatcher(transport Transport, variables VariableResolver, attachments AttachmentSource, cfg config.NotificationConfig, log logger.Logger) *Dispatcher {
	timeout := time.Duration(cfg.SendTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		transport:   transport,
		variables:   variables,
		attachments: attachments,
		from:        cfg.FromEmail,
		fromName:    cfg.FromName,
		timeout:     timeout,
		logger:      log.WithFields(map[string]interface{}{"component": "dispatcher", "transport": transport.Name()}),
	}
}

// Send delivers one envelope. Transport errors and panics are reported in
// the result and never returned.
func (d *Dispatcher) Send(ctx context.Context, env recipient.Envelope, subject, body string, isHTML bool, files []attachment.File) (res Result) {
	res = Result{Recipient: env.Label(), EnrolleeID: env.EnrolleeID}
	name := d.transport.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Message = fmt.Sprintf("transport panic: %v", r)
			d.logger.Error("Recovered from panic during send", map[string]interface{}{
				"recipient": res.Recipient,
				"panic":     fmt.Sprint(r),
			})
		}
		metrics.NotificationSendDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if res.Success {
			metrics.NotificationsSent.WithLabelValues(name).Inc()
		} else {
			metrics.NotificationsFailed.WithLabelValues(name).Inc()
		}
	}()

	if len(env.To) == 0 {
		res.Message = "no recipients"
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.transport.Send(sendCtx, Message{
		From:        d.from,
		FromName:    d.fromName,
		To:          env.To,
		CC:          env.CC,
		BCC:         env.BCC,
		Subject:     subject,
		Body:        body,
		IsHTML:      isHTML,
		Attachments: files,
	})
	if err != nil {
		stdErr := apperrors.NewTransportFailedError(name, err)
		d.logger.WithError(err).Warn("Email send failed", map[string]interface{}{
			"recipient": res.Recipient,
			"duration":  time.Since(start).String(),
		})
		res.Message = stdErr.Error()
		return res
	}

	d.logger.Debug("Email sent", map[string]interface{}{
		"recipient": res.Recipient,
		"duration":  time.Since(start).String(),
	})
	res.Success = true
	res.Message = "sent"
	return res
}

// Deliver renders and sends def to every envelope of res, one at a time.
// The notification's stored attachments are materialized once and removed
// before Deliver returns.
func (d *Dispatcher) Deliver(ctx context.Context, def models.NotificationDefinition, res *recipient.Resolution, opts DeliverOptions) (*Delivery, error) {
	ctx, span := observability.Tracer().Start(ctx, "notification.deliver", trace.WithAttributes(
		attribute.Int64("notification.id", def.ID),
		attribute.String("recipient.mode", string(res.Mode)),
		attribute.Int("recipient.envelopes", len(res.Envelopes)),
	))
	defer span.End()

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	refs, err := d.attachments.ForNotification(ctx, def.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load attachments")
		return nil, err
	}
	bundle, err := d.attachments.Materialize(ctx, refs, d.blockedExtensions())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "materialize attachments")
		return nil, err
	}
	defer bundle.Cleanup()

	files := make([]attachment.File, 0, len(bundle.Files)+len(opts.Files))
	files = append(files, bundle.Files...)
	files = append(files, opts.Files...)

	delivery := &Delivery{Mode: res.Mode}
	for _, f := range res.Failures {
		delivery.Results = append(delivery.Results, Result{Recipient: f.Recipient, Message: f.Reason})
		delivery.Failed++
	}

	var envelopeResults []Result
	for _, env := range res.Envelopes {
		vars, err := d.variables.ResolveVariables(ctx, def, template.Context{
			EnrolleeID:        env.EnrolleeID,
			CoverageStartDate: opts.CoverageStartDate,
			Now:               opts.Now,
		})
		var r Result
		if err != nil {
			d.logger.WithError(err).Warn("Variable resolution failed", map[string]interface{}{
				"notificationId": def.ID,
				"recipient":      env.Label(),
			})
			r = Result{Recipient: env.Label(), EnrolleeID: env.EnrolleeID, Message: err.Error()}
		} else {
			subject := template.ReplaceVariables(def.Subject, vars)
			body := template.ReplaceVariables(def.Message, vars)
			r = d.Send(ctx, env, subject, body, def.IsHTML, files)
		}

		if r.Success {
			delivery.Sent++
		} else {
			delivery.Failed++
		}
		envelopeResults = append(envelopeResults, r)
	}
	delivery.Results = append(delivery.Results, envelopeResults...)

	switch {
	case res.Batch():
		delivery.Success = true
	case len(envelopeResults) == 1:
		delivery.Success = envelopeResults[0].Success
	default:
		delivery.Success = false
	}

	span.SetAttributes(
		attribute.Int("delivery.sent", delivery.Sent),
		attribute.Int("delivery.failed", delivery.Failed),
	)
	d.logger.Info("Notification delivered", map[string]interface{}{
		"notificationId": def.ID,
		"mode":           string(res.Mode),
		"sent":           delivery.Sent,
		"failed":         delivery.Failed,
	})
	return delivery, nil
}

func (d *Dispatcher) blockedExtensions() []string {
	if b, ok := d.transport.(ExtensionBlocker); ok {
		return b.BlockedExtensions()
	}
	return nil
}
