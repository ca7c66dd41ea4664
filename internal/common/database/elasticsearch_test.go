package database

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"enrollment-notifier/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esCall struct {
	method string
	path   string
	body   string
}

func newFakeES(t *testing.T, existsStatus, createStatus int) (*ElasticsearchClient, *[]esCall) {
	var mu sync.Mutex
	calls := &[]esCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		*calls = append(*calls, esCall{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(existsStatus)
		case http.MethodPut:
			w.WriteHeader(createStatus)
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, calls
}

func TestEnsureAuditIndex(t *testing.T) {
	tests := []struct {
		name         string
		existsStatus int
		createStatus int
		wantCreate   bool
		wantErr      bool
	}{
		{"already exists", http.StatusOK, http.StatusOK, false, false},
		{"created", http.StatusNotFound, http.StatusOK, true, false},
		{"lost creation race", http.StatusNotFound, http.StatusBadRequest, true, false},
		{"create rejected", http.StatusNotFound, http.StatusForbidden, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := newFakeES(t, tt.existsStatus, tt.createStatus)

			err := client.EnsureAuditIndex(context.Background(), "notification-audit")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			var created *esCall
			for i := range *calls {
				if (*calls)[i].method == http.MethodPut {
					created = &(*calls)[i]
				}
			}
			if !tt.wantCreate {
				assert.Nil(t, created)
				return
			}
			require.NotNil(t, created)
			assert.Equal(t, "/notification-audit", created.path)
			assert.Contains(t, created.body, `"notificationId"`)
		})
	}
}
