// Package remote talks to the upstream LevelUp API as a storage backend.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"levelup-loyalty/internal/store"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultPaths maps gateway keys to collection paths on the upstream API.
// Counters and the auth token are device-local and have no remote path.
var DefaultPaths = map[string]string{
	store.KeyEvents:           "events",
	store.KeyRedemptionOrders: "redemptions",
	store.KeyPurchaseOrders:   "orders",
	store.KeyProducts:         "products",
	store.KeyUsers:            "users",
	store.KeyLedger:           "points/ledger",
}

// Client is the authoritative backend. A batch is sent whole to POST /batch
// so the upstream applies it in one transaction.
type Client struct {
	baseURL   string
	authToken string
	paths     map[string]string
	http      *http.Client
}

// NewClient creates a remote backend for baseURL
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		paths:     DefaultPaths,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Name() string { return "remote" }

func (c *Client) Authoritative() bool { return true }

// Ping checks GET /health
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

// Get fetches the collection behind key
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	path, ok := c.paths[key]
	if !ok {
		return nil, store.ErrUnsupported
	}

	resp, err := c.do(ctx, http.MethodGet, "/"+path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, store.ErrKeyNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, body)
	}
	return body, nil
}

// Commit posts the whole batch. Batches touching a key without a remote path
// are refused with store.ErrUnsupported so they land on a local backend.
func (c *Client) Commit(ctx context.Context, batch *store.Batch) error {
	for _, key := range batch.Keys() {
		if _, ok := c.paths[key]; !ok {
			return store.ErrUnsupported
		}
	}

	payload, err := batch.Encode()
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/batch", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("batch %s rejected (status %d): %s", batch.ID, resp.StatusCode, body)
	}
	return nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return c.http.Do(req)
}
