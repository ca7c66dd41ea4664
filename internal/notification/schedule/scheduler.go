package schedule

import (
	"context"
	"fmt"
	"time"

	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"
)

// Source lists the definitions that carry a schedule.
type Source interface {
	ScheduledNotifications(ctx context.Context) ([]models.NotificationDefinition, error)
}

// Scheduler selects due definitions. The cron match alone decides due-ness
// unless skipAlreadySent is set, in which case a definition already stamped
// at or after the current fire time is left out.
type Scheduler struct {
	source          Source
	logger          logger.Logger
	skipAlreadySent bool
}

func NewScheduler(source Source, log logger.Logger, skipAlreadySent bool) *Scheduler {
	return &Scheduler{
		source:          source,
		logger:          log.WithFields(map[string]interface{}{"component": "scheduler"}),
		skipAlreadySent: skipAlreadySent,
	}
}

func (s *Scheduler) DueNotifications(ctx context.Context, now time.Time) ([]models.NotificationDefinition, error) {
	defs, err := s.source.ScheduledNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scheduled notifications: %w", err)
	}

	fireTime := now.Truncate(time.Minute)
	due := make([]models.NotificationDefinition, 0, len(defs))
	for _, def := range defs {
		if !def.Scheduled() {
			continue
		}
		if _, err := Parse(*def.Schedule); err != nil {
			s.logger.Warn("invalid schedule, treating as not due", map[string]interface{}{
				"notificationId": def.ID,
				"schedule":       *def.Schedule,
				"error":          err,
			})
			continue
		}
		if !IsDue(*def.Schedule, now) {
			continue
		}
		if s.skipAlreadySent && def.LastSentAt != nil && !def.LastSentAt.Before(fireTime) {
			s.logger.Debug("already sent for this fire time", map[string]interface{}{
				"notificationId": def.ID,
				"lastSentAt":     def.LastSentAt,
			})
			continue
		}
		due = append(due, def)
	}
	return due, nil
}
