package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reporter forwards severe records to an external monitoring sink.
type Reporter interface {
	Report(ctx context.Context, rec Record) error
}

// NoopReporter discards every record.
type NoopReporter struct{}

func (NoopReporter) Report(context.Context, Record) error { return nil }

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, rec Record) error

func (f ReporterFunc) Report(ctx context.Context, rec Record) error { return f(ctx, rec) }

// HTTPReporter posts records as JSON to a webhook URL.
type HTTPReporter struct {
	url    string
	client *http.Client
}

// NewHTTPReporter creates a reporter for url. A nil client uses a client
// with a 10 second timeout.
func NewHTTPReporter(url string, client *http.Client) *HTTPReporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPReporter{url: url, client: client}
}

type reportPayload struct {
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Context   map[string]any `json:"context,omitempty"`
	Cause     string         `json:"cause,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (r *HTTPReporter) Report(ctx context.Context, rec Record) error {
	payload := reportPayload{
		Message:   rec.Message,
		Level:     rec.Level.String(),
		Category:  string(rec.Category),
		Context:   rec.Context,
		Timestamp: time.Now().UTC(),
	}

	if rec.Cause != nil {
		payload.Cause = rec.Cause.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building report request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report rejected with status %d", resp.StatusCode)
	}

	return nil
}
