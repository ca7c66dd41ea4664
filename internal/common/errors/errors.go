// Package errors provides the structured error type used by the notification
// components and the job workers that front them.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeNotificationNotFound   ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeNoValidRecipients      ErrorCode = "NO_VALID_RECIPIENTS"
	ErrCodeNoStatusMatches        ErrorCode = "NO_STATUS_MATCHES"
	ErrCodeScheduleInvalid        ErrorCode = "SCHEDULE_INVALID"
	ErrCodeTransportFailed        ErrorCode = "TRANSPORT_FAILED"
	ErrCodeReportGenerationFailed ErrorCode = "REPORT_GENERATION_FAILED"
	ErrCodeStorageFetchFailed     ErrorCode = "STORAGE_FETCH_FAILED"
	ErrCodeLockNotAcquired        ErrorCode = "LOCK_NOT_ACQUIRED"
	ErrCodeQueryExecutionFailed   ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata returns the error with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToErrorVariables returns a map suitable for job failure variables.
func (e *StandardError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    string(e.Code),
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.Metadata {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false)
}

func NewNotificationNotFoundError(id int64) *StandardError {
	return newError(ErrCodeNotificationNotFound, "Notification not found", fmt.Sprintf("notificationId: %d", id), false)
}

func NewNoValidRecipientsError(details string) *StandardError {
	return newError(ErrCodeNoValidRecipients, "No valid recipients", details, false)
}

func NewNoStatusMatchesError(status string) *StandardError {
	return newError(ErrCodeNoStatusMatches, "No enrollees match the requested status", fmt.Sprintf("status: %s", status), false)
}

func NewScheduleInvalidError(schedule string, err error) *StandardError {
	return newError(ErrCodeScheduleInvalid, "Invalid cron schedule", fmt.Sprintf("schedule: %q, error: %v", schedule, err), false)
}

func NewTransportFailedError(provider string, err error) *StandardError {
	return newError(ErrCodeTransportFailed, "Email transport failed", fmt.Sprintf("provider: %s, error: %v", provider, err), true)
}

func NewReportGenerationFailedError(err error) *StandardError {
	return newError(ErrCodeReportGenerationFailed, "CSV report generation failed", err.Error(), true)
}

func NewStorageFetchFailedError(key string, err error) *StandardError {
	return newError(ErrCodeStorageFetchFailed, "Failed to fetch attachment from storage", fmt.Sprintf("key: %s, error: %v", key, err), true)
}

func NewLockNotAcquiredError(key string) *StandardError {
	return newError(ErrCodeLockNotAcquired, "Notification is being processed elsewhere", fmt.Sprintf("lock: %s", key), true)
}

func NewQueryExecutionFailedError(query string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error", fmt.Sprintf("query: %s, error: %v", query, err), true)
}

// IsCode reports whether err is a StandardError carrying code.
func IsCode(err error, code ErrorCode) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}
