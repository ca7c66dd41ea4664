// Package audit records the decisions a notification run makes: who was
// resolved, what was sent or skipped, and when last_sent_at moved.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	awsclient "enrollment-notifier/internal/common/aws"
	"enrollment-notifier/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type Event string

const (
	EventResolved Event = "recipients_resolved"
	EventSent     Event = "notification_sent"
	EventSkipped  Event = "notification_skipped"
	EventStamped  Event = "last_sent_updated"
	EventFailed   Event = "notification_failed"
)

type Entry struct {
	Event          Event     `json:"event"`
	NotificationID int64     `json:"notificationId"`
	RunID          string    `json:"runId,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	Sent           int       `json:"sent"`
	Failed         int       `json:"failed"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LoggerSink writes entries to the structured log.
type LoggerSink struct {
	logger logger.Logger
}

func NewLoggerSink(log logger.Logger) *LoggerSink {
	return &LoggerSink{logger: log.WithFields(map[string]interface{}{"component": "audit"})}
}

func (s *LoggerSink) Record(_ context.Context, e Entry) error {
	fields := map[string]interface{}{
		"event":          string(e.Event),
		"notificationId": e.NotificationID,
		"runId":          e.RunID,
		"mode":           e.Mode,
		"sent":           e.Sent,
		"failed":         e.Failed,
		"reason":         e.Reason,
	}
	if e.Event == EventFailed {
		s.logger.Warn("audit", fields)
	} else {
		s.logger.Info("audit", fields)
	}
	return nil
}

// ElasticsearchSink indexes each entry as a document.
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSink(client *elasticsearch.Client, index string) *ElasticsearchSink {
	if index == "" {
		index = "notification-audit"
	}
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Record(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index: s.index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index audit entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit entry failed: %s", res.String())
	}
	return nil
}

// SNSAlertSink publishes an alert for entries that carry failures and
// ignores the rest.
type SNSAlertSink struct {
	client   awsclient.SNSAPI
	topicARN string
}

func NewSNSAlertSink(client awsclient.SNSAPI, topicARN string) *SNSAlertSink {
	return &SNSAlertSink{client: client, topicARN: topicARN}
}

func (s *SNSAlertSink) Record(ctx context.Context, e Entry) error {
	if e.Event != EventFailed && e.Failed == 0 {
		return nil
	}

	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(fmt.Sprintf("Notification %d delivery failures", e.NotificationID)),
		Message:  aws.String(string(msg)),
	})
	if err != nil {
		return fmt.Errorf("publish audit alert: %w", err)
	}
	return nil
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
