// Package orchestrator drives a scheduled notification run: it asks the
// scheduler what is due, resolves recipients per notification type, hands
// the result to the dispatcher and stamps last_sent_at.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"enrollment-notifier/internal/audit"
	"enrollment-notifier/internal/common/database"
	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/common/metrics"
	"enrollment-notifier/internal/common/observability"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/notification/attachment"
	"enrollment-notifier/internal/notification/dispatch"
	"enrollment-notifier/internal/notification/recipient"
	"enrollment-notifier/internal/notification/schedule"
	"enrollment-notifier/internal/report"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	lockKeyFormat  = "notification:lock:%d"
	defaultLockTTL = 10 * time.Minute
)

type DueSource interface {
	DueNotifications(ctx context.Context, now time.Time) ([]models.NotificationDefinition, error)
}

type Store interface {
	NotificationByID(ctx context.Context, id int64) (*models.NotificationDefinition, error)
	UpdateLastSentAt(ctx context.Context, id int64, prev *time.Time, sentAt time.Time) (bool, error)
}

type RecipientResolver interface {
	Resolve(ctx context.Context, req recipient.Request, def models.NotificationDefinition) (*recipient.Resolution, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, def models.NotificationDefinition, res *recipient.Resolution, opts dispatch.DeliverOptions) (*dispatch.Delivery, error)
}

type ReportAssembler interface {
	GenerateCSV(ctx context.Context, f report.Filter) (*attachment.Report, error)
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons, also used as the skipped-metric label.
const (
	SkipLocked    = "locked"
	SkipNoMatches = "no_matches"
	SkipNoData    = "no_data"
)

type NotificationResult struct {
	NotificationID int64              `json:"notificationId"`
	Type           string             `json:"type"`
	Outcome        Outcome            `json:"outcome"`
	Reason         string             `json:"reason,omitempty"`
	Stamped        bool               `json:"stamped"`
	Delivery       *dispatch.Delivery `json:"delivery,omitempty"`
}

type RunSummary struct {
	RunID     string               `json:"runId"`
	StartedAt time.Time            `json:"startedAt"`
	Duration  time.Duration        `json:"duration"`
	Due       int                  `json:"due"`
	Sent      int                  `json:"sent"`
	Skipped   int                  `json:"skipped"`
	Failed    int                  `json:"failed"`
	Error     string               `json:"error,omitempty"`
	Results   []NotificationResult `json:"results"`
}

func (s *RunSummary) add(r NotificationResult) {
	switch r.Outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Dependencies are the collaborators of an Orchestrator. Audit and
// Observability are optional.
type Dependencies struct {
	Scheduler     DueSource
	Store         Store
	Recipients    RecipientResolver
	Deliverer     Deliverer
	Reports       ReportAssembler
	Locker        database.Locker
	Audit         audit.Sink
	Observability *observability.Observability
}

type Orchestrator struct {
	deps    Dependencies
	lockTTL time.Duration
	logger  logger.Logger
}

func New(deps Dependencies, lockTTL time.Duration, log logger.Logger) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Orchestrator{
		deps:    deps,
		lockTTL: lockTTL,
		logger:  log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// RunDueNotifications processes every notification due at now, one after
// another. A failing notification is recorded in the summary and does not
// stop the run.
func (o *Orchestrator) RunDueNotifications(ctx context.Context, now time.Time) *RunSummary {
	start := time.Now()
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: now}

	ctx, span := observability.Tracer().Start(ctx, "notification.run", trace.WithAttributes(
		attribute.String("run.id", summary.RunID),
	))
	defer span.End()
	metrics.ScheduledRuns.Inc()

	log := o.logger.WithFields(map[string]interface{}{"runId": summary.RunID})

	due, err := o.deps.Scheduler.DueNotifications(ctx, now)
	if err != nil {
		log.WithError(err).Error("Failed to load due notifications", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load due notifications")
		summary.Error = err.Error()
		summary.Duration = time.Since(start)
		return summary
	}
	summary.Due = len(due)

	for _, def := range due {
		if ctx.Err() != nil {
			break
		}
		summary.add(o.process(ctx, summary.RunID, def, now))
	}

	summary.Duration = time.Since(start)
	o.deps.Observability.RecordRun(ctx, summary.Duration, summary.Due, summary.Sent)
	span.SetAttributes(
		attribute.Int("run.due", summary.Due),
		attribute.Int("run.sent", summary.Sent),
		attribute.Int("run.skipped", summary.Skipped),
		attribute.Int("run.failed", summary.Failed),
	)

	log.Info("Scheduled run finished", map[string]interface{}{
		"due":      summary.Due,
		"sent":     summary.Sent,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"duration": summary.Duration.String(),
	})
	return summary
}

func (o *Orchestrator) process(ctx context.Context, runID string, def models.NotificationDefinition, now time.Time) (res NotificationResult) {
	res = NotificationResult{NotificationID: def.ID, Type: def.NotificationType}
	log := o.logger.WithFields(map[string]interface{}{
		"runId":          runID,
		"notificationId": def.ID,
		"type":           def.NotificationType,
	})

	ctx, span := observability.Tracer().Start(ctx, "notification.process", trace.WithAttributes(
		attribute.Int64("notification.id", def.ID),
		attribute.String("notification.type", def.NotificationType),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Reason = fmt.Sprintf("panic: %v", r)
			log.Error("Recovered from panic while processing notification", map[string]interface{}{"panic": fmt.Sprint(r)})
			span.SetStatus(codes.Error, "panic")
			o.record(ctx, audit.Entry{Event: audit.EventFailed, NotificationID: def.ID, RunID: runID, Reason: res.Reason})
		}
	}()

	lockKey := fmt.Sprintf(lockKeyFormat, def.ID)
	lock, ok, err := o.deps.Locker.AcquireLock(ctx, lockKey, o.lockTTL)
	if err != nil {
		return o.fail(ctx, log, span, runID, res, err)
	}
	if !ok {
		lockErr := apperrors.NewLockNotAcquiredError(lockKey)
		log.WithError(lockErr).Info("Notification locked by another run, skipping", nil)
		return o.skipWithCause(ctx, runID, res, SkipLocked, lockErr)
	}
	defer func() {
		if err := o.deps.Locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
			log.WithError(err).Warn("Failed to release notification lock", nil)
		}
	}()

	delivery, skipReason, err := o.deliverScheduled(ctx, runID, def, now)
	if err != nil {
		return o.fail(ctx, log, span, runID, res, err)
	}
	if skipReason != "" {
		log.Info("Nothing to send this cycle", map[string]interface{}{"reason": skipReason})
		return o.skip(ctx, runID, res, skipReason)
	}

	res.Outcome = OutcomeSent
	res.Delivery = delivery
	o.deps.Observability.RecordRecipients(ctx, delivery.Sent, delivery.Failed)
	o.record(ctx, audit.Entry{
		Event:          audit.EventSent,
		NotificationID: def.ID,
		RunID:          runID,
		Mode:           string(delivery.Mode),
		Sent:           delivery.Sent,
		Failed:         delivery.Failed,
	})

	stamped, err := o.deps.Store.UpdateLastSentAt(ctx, def.ID, def.LastSentAt, now)
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to update last_sent_at", nil)
		res.Reason = err.Error()
	case !stamped:
		log.Warn("last_sent_at changed concurrently, leaving it", nil)
		res.Reason = "last_sent_at changed concurrently"
	default:
		res.Stamped = true
		o.record(ctx, audit.Entry{Event: audit.EventStamped, NotificationID: def.ID, RunID: runID})
	}
	return res
}

// deliverScheduled sends def according to its type. A non-empty skip
// reason means there was nothing to send.
func (o *Orchestrator) deliverScheduled(ctx context.Context, runID string, def models.NotificationDefinition, now time.Time) (*dispatch.Delivery, string, error) {
	if status, ok := def.TriggerStatus(); ok {
		return o.deliverStatusTriggered(ctx, runID, def, status, now)
	}
	if status, ok := def.ReportStatus(); ok {
		return o.deliverReport(ctx, runID, def, status, now)
	}

	res, err := o.deps.Recipients.Resolve(ctx, recipient.Request{}, def)
	if err != nil {
		return nil, "", err
	}
	o.recordResolution(ctx, runID, def, res)
	delivery, err := o.deps.Deliverer.Deliver(ctx, def, res, dispatch.DeliverOptions{Now: now})
	return delivery, "", err
}

func (o *Orchestrator) deliverStatusTriggered(ctx context.Context, runID string, def models.NotificationDefinition, status string, now time.Time) (*dispatch.Delivery, string, error) {
	rng := schedule.CalculateDateRange(*def.Schedule, now)
	req := recipient.Request{
		EnrolleeStatus: status,
		Since:          &rng.From,
		Until:          &rng.To,
		CC:             def.CC,
		BCC:            def.BCC,
	}

	res, err := o.deps.Recipients.Resolve(ctx, req, def)
	if apperrors.IsCode(err, apperrors.ErrCodeNoStatusMatches) {
		return nil, SkipNoMatches, nil
	}
	if err != nil {
		return nil, "", err
	}
	o.recordResolution(ctx, runID, def, res)

	delivery, err := o.deps.Deliverer.Deliver(ctx, def, res, dispatch.DeliverOptions{Now: now})
	return delivery, "", err
}

func (o *Orchestrator) deliverReport(ctx context.Context, runID string, def models.NotificationDefinition, status string, now time.Time) (*dispatch.Delivery, string, error) {
	rng := schedule.CalculateDateRange(*def.Schedule, now)
	rep, err := o.deps.Reports.GenerateCSV(ctx, report.Filter{
		EnrollmentID:   def.EnrollmentID,
		Status:         status,
		WithDependents: true,
		From:           &rng.From,
		To:             &rng.To,
		Columns:        report.AttachmentReportColumns,
	})
	if err != nil {
		return nil, "", err
	}
	if rep == nil {
		return nil, SkipNoData, nil
	}
	defer rep.Cleanup()
	if !rep.HasData {
		return nil, SkipNoData, nil
	}

	res, err := o.deps.Recipients.Resolve(ctx, recipient.Request{To: def.To, CC: def.CC, BCC: def.BCC}, def)
	if err != nil {
		return nil, "", err
	}
	o.recordResolution(ctx, runID, def, res)

	delivery, err := o.deps.Deliverer.Deliver(ctx, def, res, dispatch.DeliverOptions{
		Now:   now,
		Files: []attachment.File{rep.File()},
	})
	return delivery, "", err
}

// SendManual sends notification id to the recipients described by req. It
// takes no lock and leaves last_sent_at alone.
func (o *Orchestrator) SendManual(ctx context.Context, id int64, req recipient.Request, opts dispatch.DeliverOptions) (*dispatch.Delivery, error) {
	ctx, span := observability.Tracer().Start(ctx, "notification.send_manual", trace.WithAttributes(
		attribute.Int64("notification.id", id),
	))
	defer span.End()

	def, err := o.deps.Store.NotificationByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := o.deps.Recipients.Resolve(ctx, req, *def)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.recordResolution(ctx, "", *def, res)

	delivery, err := o.deps.Deliverer.Deliver(ctx, *def, res, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.deps.Observability.RecordRecipients(ctx, delivery.Sent, delivery.Failed)
	o.record(ctx, audit.Entry{
		Event:          audit.EventSent,
		NotificationID: id,
		Mode:           string(delivery.Mode),
		Sent:           delivery.Sent,
		Failed:         delivery.Failed,
	})
	return delivery, nil
}

func (o *Orchestrator) skip(ctx context.Context, runID string, res NotificationResult, reason string) NotificationResult {
	return o.skipWithCause(ctx, runID, res, reason, nil)
}

// skipWithCause keeps the short reason on the result and metric label; the
// audit entry carries the cause as well when there is one.
func (o *Orchestrator) skipWithCause(ctx context.Context, runID string, res NotificationResult, reason string, cause error) NotificationResult {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	metrics.ScheduledNotificationsSkipped.WithLabelValues(reason).Inc()
	detail := reason
	if cause != nil {
		detail = reason + ": " + cause.Error()
	}
	o.record(ctx, audit.Entry{Event: audit.EventSkipped, NotificationID: res.NotificationID, RunID: runID, Reason: detail})
	return res
}

func (o *Orchestrator) fail(ctx context.Context, log logger.Logger, span trace.Span, runID string, res NotificationResult, err error) NotificationResult {
	log.WithError(err).Error("Notification failed", nil)
	span.RecordError(err)
	span.SetStatus(codes.Error, "notification failed")
	res.Outcome = OutcomeFailed
	res.Reason = err.Error()
	o.record(ctx, audit.Entry{Event: audit.EventFailed, NotificationID: res.NotificationID, RunID: runID, Reason: res.Reason})
	return res
}

func (o *Orchestrator) recordResolution(ctx context.Context, runID string, def models.NotificationDefinition, res *recipient.Resolution) {
	o.record(ctx, audit.Entry{
		Event:          audit.EventResolved,
		NotificationID: def.ID,
		RunID:          runID,
		Mode:           string(res.Mode),
		Sent:           len(res.Envelopes),
		Failed:         len(res.Failures),
	})
}

func (o *Orchestrator) record(ctx context.Context, e audit.Entry) {
	if o.deps.Audit == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := o.deps.Audit.Record(ctx, e); err != nil {
		o.logger.WithError(err).Warn("Audit record failed", map[string]interface{}{
			"event":          string(e.Event),
			"notificationId": e.NotificationID,
		})
	}
}
