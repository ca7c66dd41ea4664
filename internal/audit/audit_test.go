package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"enrollment-notifier/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSNS struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
	calls       int
}

func (m *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	return m.PublishFunc(ctx, params)
}

type recordingSink struct {
	entries []Entry
	err     error
}

func (r *recordingSink) Record(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

// ==========================
// Test Cases
// ==========================

func TestElasticsearchSink_Record(t *testing.T) {
	var (
		gotPath string
		gotDoc  Entry
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created","_id":"1"}`))
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	sink := NewElasticsearchSink(client, "")
	err = sink.Record(context.Background(), Entry{Event: EventSent, NotificationID: 4, Sent: 2})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/notification-audit/_doc"))
	assert.Equal(t, EventSent, gotDoc.Event)
	assert.Equal(t, int64(4), gotDoc.NotificationID)
	assert.Equal(t, 2, gotDoc.Sent)
}

func TestElasticsearchSink_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	err = NewElasticsearchSink(client, "audit").Record(context.Background(), Entry{Event: EventSent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSNSAlertSink(t *testing.T) {
	tests := []struct {
		name      string
		entry     Entry
		wantCalls int
	}{
		{name: "clean send is ignored", entry: Entry{Event: EventSent, Sent: 3}},
		{name: "partial failure alerts", entry: Entry{Event: EventSent, Sent: 2, Failed: 1}, wantCalls: 1},
		{name: "failed notification alerts", entry: Entry{Event: EventFailed, Reason: "boom"}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			mock := &MockSNS{PublishFunc: func(_ context.Context, p *sns.PublishInput) (*sns.PublishOutput, error) {
				subject = *p.Subject
				assert.Equal(t, "arn:aws:sns:us-east-1:1:alerts", *p.TopicArn)
				return &sns.PublishOutput{}, nil
			}}
			sink := NewSNSAlertSink(mock, "arn:aws:sns:us-east-1:1:alerts")

			require.NoError(t, sink.Record(context.Background(), tt.entry))
			assert.Equal(t, tt.wantCalls, mock.calls)
			if tt.wantCalls > 0 {
				assert.Contains(t, subject, "delivery failures")
			}
		})
	}
}

func TestMulti(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("es down")}
	m := Multi{a, b, NewLoggerSink(logger.NewTestLogger(t))}

	err := m.Record(context.Background(), Entry{Event: EventSkipped, NotificationID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "es down")

	require.Len(t, a.entries, 1)
	require.Len(t, b.entries, 1)
	assert.False(t, a.entries[0].Timestamp.IsZero())
}
