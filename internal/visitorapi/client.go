// Package visitorapi provides the HTTP client for the remote visitor and
// telemetry services.
package visitorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Photo is the inline payload attached to a visitor submission.
type Photo struct {
	ImageName   string `json:"image_name"`
	ImageBase64 string `json:"image_base64"`
}

// AddVisitorRequest is the body of POST /visitors/add_visitor/.
type AddVisitorRequest struct {
	VisitorName     string `json:"visitor_name"`
	VisitorMobileNo string `json:"visitor_mobile_no"`
	VisitingTenant  string `json:"visiting_tenant_id"`
	Photo           Photo  `json:"photo"`
}

// LogPayload is one entry in the body of POST /logs/mobile/.
type LogPayload struct {
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// SyncIssue is an out-of-band report of a record that could not be reconciled.
type SyncIssue struct {
	SubmissionID string `json:"submission_id"`
	ServerID     string `json:"server_id,omitempty"`
	Reason       string `json:"reason"`
	OccurredAt   int64  `json:"occurred_at"`
}

// Client talks to the visitor and log-ingestion services.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL with a bounded timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// AddVisitor delivers a visitor submission and returns the server-assigned
// identifier. Transport failures wrap ErrTransient; non-2xx responses return
// a RejectionError.
func (c *Client) AddVisitor(ctx context.Context, req *AddVisitorRequest) (string, error) {
	body, err := c.post(ctx, "/visitors/add_visitor/", req)
	if err != nil {
		return "", err
	}
	return extractServerID(body)
}

// PushLogs delivers a batch of log entries to the telemetry endpoint.
func (c *Client) PushLogs(ctx context.Context, entries []LogPayload) error {
	payload := struct {
		Logs []LogPayload `json:"logs"`
	}{Logs: entries}

	_, err := c.post(ctx, "/logs/mobile/", payload)
	return err
}

// Health probes the telemetry liveness endpoint. Best-effort only: callers
// must not gate sync attempts on the result.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/logs/health/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ReportSyncIssues sends an out-of-band report of unreconciled records.
func (c *Client) ReportSyncIssues(ctx context.Context, issues []SyncIssue) error {
	payload := struct {
		Issues []SyncIssue `json:"issues"`
	}{Issues: issues}

	_, err := c.post(ctx, "/logs/sync-issues/", payload)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// No response received; the server may not have seen the request.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RejectionError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	return respBody, nil
}

// extractServerID pulls the server-assigned identifier out of a success
// response. The field name varies across service versions, and the value may
// be a JSON string or a number.
func extractServerID(body []byte) (string, error) {
	var resp struct {
		ID        any `json:"id"`
		VisitorID any `json:"visitor_id"`
		Data      struct {
			ID any `json:"id"`
		} `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	for _, candidate := range []any{resp.ID, resp.VisitorID, resp.Data.ID} {
		switch v := candidate.(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case json.Number:
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("response contains no server identifier")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
