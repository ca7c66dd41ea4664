package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/models"
)

const notificationColumns = `id, enrollment_id, "to", cc, bcc, notification_type, subject, message, is_html, schedule, last_sent_at`

const (
	queryScheduledNotifications = `SELECT ` + notificationColumns + ` FROM notifications WHERE schedule IS NOT NULL AND TRIM(schedule) <> '' AND deleted_at IS NULL ORDER BY id`

	queryNotificationByID = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND deleted_at IS NULL`

	updateLastSentAt = `UPDATE notifications SET last_sent_at = $1 WHERE id = $2 AND last_sent_at IS NOT DISTINCT FROM $3`
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.NotificationDefinition, error) {
	var (
		n            models.NotificationDefinition
		enrollmentID sql.NullInt64
		cc, bcc      sql.NullString
		schedule     sql.NullString
		lastSentAt   sql.NullTime
	)
	if err := row.Scan(
		&n.ID, &enrollmentID, &n.To, &cc, &bcc,
		&n.NotificationType, &n.Subject, &n.Message, &n.IsHTML,
		&schedule, &lastSentAt,
	); err != nil {
		return nil, err
	}

	n.EnrollmentID = enrollmentID.Int64
	n.CC = nullString(cc)
	n.BCC = nullString(bcc)
	if schedule.Valid {
		s := schedule.String
		n.Schedule = &s
	}
	n.LastSentAt = nullTime(lastSentAt)
	return &n, nil
}

// ScheduledNotifications lists live definitions with a non-blank schedule.
func (s *Store) ScheduledNotifications(ctx context.Context) ([]models.NotificationDefinition, error) {
	rows, err := s.db.QueryContext(ctx, queryScheduledNotifications)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("scheduled notifications", err)
	}
	defer rows.Close()

	var out []models.NotificationDefinition
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// NotificationByID returns NOTIFICATION_NOT_FOUND for unknown or deleted ids.
func (s *Store) NotificationByID(ctx context.Context, id int64) (*models.NotificationDefinition, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, queryNotificationByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotificationNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("notification by id", err)
	}
	return n, nil
}

// UpdateLastSentAt stamps sentAt only if last_sent_at still equals prev.
// It reports false when another run stamped the row first.
func (s *Store) UpdateLastSentAt(ctx context.Context, id int64, prev *time.Time, sentAt time.Time) (bool, error) {
	var prevArg interface{}
	if prev != nil {
		prevArg = *prev
	}

	res, err := s.db.ExecContext(ctx, updateLastSentAt, sentAt, id, prevArg)
	if err != nil {
		return false, apperrors.NewQueryExecutionFailedError("update last_sent_at", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
