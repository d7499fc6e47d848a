package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/protocol"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// HTTP talks to POST /sync and GET /sync/status.
type HTTP struct {
	base string
	hc   *http.Client
}

// NewHTTP returns a client for the service at baseURL (scheme://host[:port]).
// A nil hc gets a client with a 30s timeout.
func NewHTTP(baseURL string, hc *http.Client) *HTTP {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (c *HTTP) Sync(ctx context.Context, token string, req protocol.SyncRequest) (protocol.SyncResponse, error) {
	var out protocol.SyncResponse
	err := c.do(ctx, http.MethodPost, "/sync", token, req, &out)
	return out, err
}

func (c *HTTP) Status(ctx context.Context, token string) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	err := c.do(ctx, http.MethodGet, "/sync/status", token, nil, &out)
	return out, err
}

func (c *HTTP) do(ctx context.Context, method, path, token string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.NetworkError{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &errs.AuthError{Err: fmt.Errorf("%w: %s", errs.ErrUnauthorized, errorText(raw, resp.Status))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &errs.NetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(errorText(raw, resp.Status))}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.MalformedResponseError{Reason: op + " body", Err: err}
	}
	return nil
}

// errorText extracts the message of an ErrorResponse body, or falls back to the status line.
func errorText(raw []byte, status string) string {
	var e protocol.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return status
}
