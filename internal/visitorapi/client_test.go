package visitorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, 5*time.Second), srv
}

func sampleRequest() *AddVisitorRequest {
	return &AddVisitorRequest{
		VisitorName:     "Jordan Lee",
		VisitorMobileNo: "5550100",
		VisitingTenant:  "tenant-7",
		Photo:           Photo{ImageName: "photo_1.jpg", ImageBase64: "aGVsbG8="},
	}
}

func TestAddVisitorServerIDFieldVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"numeric id field", `{"id": 42}`, "42"},
		{"string id field", `{"id": "abc-123"}`, "abc-123"},
		{"string visitor_id field", `{"visitor_id": "v-99"}`, "v-99"},
		{"numeric nested data.id", `{"data": {"id": 7}}`, "7"},
		{"string nested data.id", `{"data": {"id": "d-31"}}`, "d-31"},
		{"large numeric id keeps precision", `{"id": 9007199254740993}`, "9007199254740993"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/visitors/add_visitor/", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req AddVisitorRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "Jordan Lee", req.VisitorName)
				assert.Equal(t, "photo_1.jpg", req.Photo.ImageName)

				w.Write([]byte(tt.body))
			})
			defer srv.Close()

			id, err := client.AddVisitor(context.Background(), sampleRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestAddVisitorMissingServerID(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	defer srv.Close()

	_, err := client.AddVisitor(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestAddVisitorRejection(t *testing.T) {
	for _, status := range []int{400, 403, 500, 503} {
		client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		})

		_, err := client.AddVisitor(context.Background(), sampleRequest())
		srv.Close()

		require.Error(t, err)
		assert.False(t, IsTransient(err), "status %d must not classify as transient", status)

		rej, ok := IsRejection(err)
		require.True(t, ok, "status %d must classify as rejection", status)
		assert.Equal(t, status, rej.StatusCode)
	}
}

func TestAddVisitorTransient(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	// Closing the server before the call produces a connection error: no
	// response was received, so the failure is transient.
	srv.Close()

	_, err := client.AddVisitor(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	_, ok := IsRejection(err)
	assert.False(t, ok)
}

func TestPushLogsBody(t *testing.T) {
	var got struct {
		Logs []LogPayload `json:"logs"`
	}
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs/mobile/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	entries := []LogPayload{
		{Level: "info", Message: "started", Timestamp: 100},
		{Level: "error", Message: "camera failed", Timestamp: 200, Metadata: json.RawMessage(`{"code":3}`)},
	}
	require.NoError(t, client.PushLogs(context.Background(), entries))
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "camera failed", got.Logs[1].Message)
}

func TestHealth(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs/health/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, client.Health(context.Background()))
	srv.Close()

	// Unreachable server: unhealthy, but never an error.
	assert.False(t, client.Health(context.Background()))
}

func TestReportSyncIssues(t *testing.T) {
	var got struct {
		Issues []SyncIssue `json:"issues"`
	}
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs/sync-issues/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})
	defer srv.Close()

	issue := SyncIssue{SubmissionID: "sub-1", ServerID: "srv-9", Reason: "local write failed", OccurredAt: 100}
	require.NoError(t, client.ReportSyncIssues(context.Background(), []SyncIssue{issue}))
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "sub-1", got.Issues[0].SubmissionID)
}
