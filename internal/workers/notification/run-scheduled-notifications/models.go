package runschedulednotifications

import "enrollment-notifier/internal/notification/orchestrator"

// Input optionally pins the evaluation time, mainly for replays.
type Input struct {
	Now string `json:"now,omitempty"` // RFC 3339
}

type Output struct {
	RunID   string                            `json:"runId"`
	Due     int                               `json:"due"`
	Sent    int                               `json:"sent"`
	Skipped int                               `json:"skipped"`
	Failed  int                               `json:"failed"`
	Results []orchestrator.NotificationResult `json:"results"`
}

const inputSchema = `{
	"type": "object",
	"properties": {
		"now": {"type": "string", "format": "date-time"}
	}
}`
