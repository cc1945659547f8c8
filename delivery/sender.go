// Package delivery posts single readings to the destination URL.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Uranury/ruuvi-lapio/reading"
)

// maxBodyLog caps how much of a rejected response body is logged.
const maxBodyLog = 4 << 10

// DefaultTimeout bounds one delivery when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// TransportError is a delivery that never got an HTTP response.
type TransportError struct {
	Dest string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("post %s: %v", e.Dest, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Sender posts readings with one shared, connection-pooling client.
type Sender struct {
	Client *http.Client
	Dest   string
	Logger *slog.Logger
}

// NewClient returns the client shared by every delivery.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Deliver makes one POST attempt. A response other than 201 Created is
// logged as a warning and is not an error. Only failures to get a
// response at all are returned.
func (s *Sender) Deliver(ctx context.Context, r reading.Normalized) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Dest, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Dest: s.Dest, Err: err}
	}
	req.Header.Set("content-type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return &TransportError{Dest: s.Dest, Err: err}
	}
	defer resp.Body.Close()

	s.Logger.Debug("server responded", "status", resp.StatusCode, "mac", r.MAC)
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	if err != nil {
		s.Logger.Debug("read response body", "error", err)
	}
	// drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		s.Logger.Warn("reading rejected", "status", resp.StatusCode, "body", string(respBody), "mac", r.MAC)
	}
	return nil
}
