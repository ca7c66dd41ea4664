// internal/models/notification.go
package models

import (
	"strings"
	"time"
)

// Notification types. Status-triggered types mail each enrollee that moved
// into the target status since the previous run; report-triggered types mail
// a CSV of enrollees in that status to the definition's own recipients.
const (
	TypeManual                    = "MANUAL"
	TypeNewlyApproved             = "NEWLY_APPROVED"
	TypeNewlyPending              = "NEWLY_PENDING"
	TypeNewlySubmitted            = "NEWLY_SUBMITTED"
	TypeNewlyForApproval          = "NEWLY_FOR_APPROVAL"
	TypeSubmittedAttachmentReport = "SUBMITTED_ATTACHMENT_REPORT"
	TypeApprovedAttachmentReport  = "APPROVED_ATTACHMENT_REPORT"
)

var statusTriggered = map[string]string{
	TypeNewlyApproved:    StatusApproved,
	TypeNewlyPending:     StatusPending,
	TypeNewlySubmitted:   StatusSubmitted,
	TypeNewlyForApproval: StatusForApproval,
}

var reportTriggered = map[string]string{
	TypeSubmittedAttachmentReport: StatusSubmitted,
	TypeApprovedAttachmentReport:  StatusApproved,
}

// NotificationDefinition is a persisted email template, optionally scheduled.
type NotificationDefinition struct {
	ID               int64      `json:"id"`
	EnrollmentID     int64      `json:"enrollmentId"`
	To               string     `json:"to"`
	CC               string     `json:"cc,omitempty"`
	BCC              string     `json:"bcc,omitempty"`
	NotificationType string     `json:"notificationType"`
	Subject          string     `json:"subject"`
	Message          string     `json:"message"`
	IsHTML           bool       `json:"isHtml"`
	Schedule         *string    `json:"schedule,omitempty"`
	LastSentAt       *time.Time `json:"lastSentAt,omitempty"`
}

// Scheduled reports whether the definition carries a non-blank cron schedule.
func (n NotificationDefinition) Scheduled() bool {
	return n.Schedule != nil && strings.TrimSpace(*n.Schedule) != ""
}

// TriggerStatus returns the enrollee status a status-triggered type watches.
func (n NotificationDefinition) TriggerStatus() (string, bool) {
	s, ok := statusTriggered[strings.ToUpper(n.NotificationType)]
	return s, ok
}

// ReportStatus returns the status filter of a report-triggered type.
func (n NotificationDefinition) ReportStatus() (string, bool) {
	s, ok := reportTriggered[strings.ToUpper(n.NotificationType)]
	return s, ok
}
