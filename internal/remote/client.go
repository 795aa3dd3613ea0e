// Package remote implements the HTTP client for the remote entity store.
// The store speaks a PostgREST-style interface: one route per table with
// horizontal filters in the query string, 409-with-body on write conflicts,
// and soft deletes surfaced through deleted_at tombstones.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tillsync/tillsync/internal/models"
)

const (
	defaultTimeout   = 30 * time.Second
	readRetryBase    = 250 * time.Millisecond
	readRetryMax     = 3
	epochWatermark   = "1970-01-01T00:00:00Z"
	timestampFormat  = time.RFC3339Nano
	headerServerTime = "Date"
)

// Client is the HTTP client for the remote entity store
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a new remote store client. token, when non-empty, is
// sent as a bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Insert creates a record and returns the created representation
func (c *Client) Insert(ctx context.Context, table string, data models.Record) (models.Record, error) {
	status, body, _, err := c.do(ctx, http.MethodPost, "/"+table, nil, data)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return decodeRecord(body)
	case status == http.StatusConflict:
		return nil, c.conflictError(table, recordIDOf(data), body)
	default:
		return nil, statusError("insert", table, status, body)
	}
}

// Update applies a partial update to one record. A 409 response carries
// the current remote record and is surfaced as a *ConflictError.
func (c *Client) Update(ctx context.Context, table, id string, data models.Record) (models.Record, error) {
	query := url.Values{"id": {"eq." + id}}

	status, body, _, err := c.do(ctx, http.MethodPatch, "/"+table, query, data)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		if len(body) == 0 {
			return nil, nil
		}
		return decodeRecord(body)
	case http.StatusConflict:
		return nil, c.conflictError(table, id, body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("update %s/%s: %w", table, id, ErrNotFound)
	default:
		return nil, statusError("update", table, status, body)
	}
}

// Delete removes one record (a soft delete on the remote side)
func (c *Client) Delete(ctx context.Context, table, id string) error {
	query := url.Values{"id": {"eq." + id}}

	status, body, _, err := c.do(ctx, http.MethodDelete, "/"+table, query, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("delete %s/%s: %w", table, id, ErrNotFound)
	default:
		return statusError("delete", table, status, body)
	}
}

// Get fetches the current remote representation of one record
func (c *Client) Get(ctx context.Context, table, id string) (models.Record, error) {
	query := url.Values{"id": {"eq." + id}}

	status, body, _, err := c.do(ctx, http.MethodGet, "/"+table, query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("get", table, status, body)
	}

	var records []models.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, ErrNotFound)
	}

	return records[0], nil
}

// Changed returns non-deleted records updated at or after the watermark,
// oldest first, plus the server-reported response time.
func (c *Client) Changed(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error) {
	query := url.Values{
		"deleted_at": {"is.null"},
		"updated_at": {"gte." + formatWatermark(since)},
		"order":      {"updated_at.asc"},
	}
	return c.queryRecords(ctx, table, query, limit)
}

// Tombstones returns records soft-deleted at or after the watermark
func (c *Client) Tombstones(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error) {
	query := url.Values{
		"deleted_at": {"not.is.null", "gte." + formatWatermark(since)},
		"order":      {"deleted_at.asc"},
	}
	return c.queryRecords(ctx, table, query, limit)
}

// Events returns append-only records created at or after the watermark,
// oldest first.
func (c *Client) Events(ctx context.Context, table string, since time.Time, limit int) ([]models.Record, time.Time, error) {
	query := url.Values{
		"created_at": {"gte." + formatWatermark(since)},
		"order":      {"created_at.asc"},
	}
	return c.queryRecords(ctx, table, query, limit)
}

// queryRecords runs one delta query with bounded retries. Reads are
// idempotent, so transient transport failures and 5xx responses back off
// and retry; writes never do.
func (c *Client) queryRecords(ctx context.Context, table string, query url.Values, limit int) ([]models.Record, time.Time, error) {
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}

	var records []models.Record
	var serverTime time.Time

	backoff := retry.WithMaxRetries(readRetryMax, retry.NewFibonacci(readRetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, body, header, err := c.do(ctx, http.MethodGet, "/"+table, query, nil)
		if err != nil {
			return retry.RetryableError(err)
		}

		if status >= http.StatusInternalServerError {
			return retry.RetryableError(statusError("query", table, status, body))
		}
		if status != http.StatusOK {
			return statusError("query", table, status, body)
		}

		if err := json.Unmarshal(body, &records); err != nil {
			return fmt.Errorf("failed to decode records: %w", err)
		}

		if t, err := http.ParseTime(header.Get(headerServerTime)); err == nil {
			serverTime = t.UTC()
		}

		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	return records, serverTime, nil
}

// do performs one HTTP request and returns the raw outcome. Transport
// failures come back as wrapped errors; HTTP statuses are the caller's to
// interpret.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, http.Header, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", "return=representation")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, respBody, resp.Header, nil
}

// conflictError decodes the current remote record from a 409 body
func (c *Client) conflictError(table, id string, body []byte) error {
	remote, err := decodeRecord(body)
	if err != nil {
		remote = nil
	}
	return &ConflictError{Table: table, RecordID: id, Remote: remote}
}

func decodeRecord(body []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		// PostgREST returns an array unless a single-object representation
		// was negotiated; accept both.
		var recs []models.Record
		if err2 := json.Unmarshal(body, &recs); err2 == nil && len(recs) > 0 {
			return recs[0], nil
		}
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func statusError(op, table string, status int, body []byte) error {
	return fmt.Errorf("%s %s failed with status %d: %s", op, table, status, truncate(body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return epochWatermark
	}
	return t.UTC().Format(timestampFormat)
}

func recordIDOf(rec models.Record) string {
	id, _ := rec["id"].(string)
	return id
}
