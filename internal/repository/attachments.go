package repository

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/models"
)

const queryNotificationAttachments = `SELECT id, file_path, file_name, attachment_for, notification_id, principal_id, dependent_id
	FROM attachments WHERE notification_id = $1 AND deleted_at IS NULL ORDER BY id`

// NotificationAttachments lists the files linked to a notification definition.
func (s *Store) NotificationAttachments(ctx context.Context, notificationID int64) ([]models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, queryNotificationAttachments, notificationID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("notification attachments", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var (
			a                           models.Attachment
			fileName, attachmentFor     sql.NullString
			notifID, principalID, depID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.FilePath, &fileName, &attachmentFor, &notifID, &principalID, &depID); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.FileName = nullString(fileName)
		a.AttachmentFor = nullString(attachmentFor)
		a.NotificationID = nullInt(notifID)
		a.PrincipalID = nullInt(principalID)
		a.DependentID = nullInt(depID)
		out = append(out, a)
	}
	return out, rows.Err()
}
