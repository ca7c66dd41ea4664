package sendnotification

import (
	"enrollment-notifier/internal/notification/dispatch"
	"enrollment-notifier/internal/notification/recipient"
)

type Input struct {
	NotificationID    int64  `json:"notificationId"`
	To                string `json:"to,omitempty"`
	CC                string `json:"cc,omitempty"`
	BCC               string `json:"bcc,omitempty"`
	EnrolleeStatus    string `json:"enrolleeStatus,omitempty"`
	DateFrom          string `json:"dateFrom,omitempty"`
	DateTo            string `json:"dateTo,omitempty"`
	SendAsMultiple    bool   `json:"sendAsMultiple,omitempty"`
	CoverageStartDate string `json:"coverageStartDate,omitempty"`
}

func (in Input) request() recipient.Request {
	return recipient.Request{
		To:             in.To,
		CC:             in.CC,
		BCC:            in.BCC,
		EnrolleeStatus: in.EnrolleeStatus,
		DateFrom:       in.DateFrom,
		DateTo:         in.DateTo,
		SendAsMultiple: in.SendAsMultiple,
	}
}

type Output struct {
	Success bool              `json:"success"`
	Mode    string            `json:"mode"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []dispatch.Result `json:"results"`
	SentAt  string            `json:"sentAt"` // RFC 3339
}

const inputSchema = `{
	"type": "object",
	"properties": {
		"notificationId":    {"type": "integer", "minimum": 1},
		"to":                {"type": "string"},
		"cc":                {"type": "string"},
		"bcc":               {"type": "string"},
		"enrolleeStatus":    {"type": "string"},
		"dateFrom":          {"type": "string"},
		"dateTo":            {"type": "string"},
		"sendAsMultiple":    {"type": "boolean"},
		"coverageStartDate": {"type": "string"}
	},
	"required": ["notificationId"]
}`
