package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPLedger talks to an external timestamp ledger over JSON/HTTP.
// Every call is bounded by the configured timeout and retried with
// exponential backoff up to maxRetries.
type HTTPLedger struct {
	url        string
	client     *http.Client
	timeout    time.Duration
	maxRetries uint64
}

// NewHTTPLedger creates a ledger client for the given base URL.
func NewHTTPLedger(url string, timeout time.Duration, maxRetries int, client *http.Client) *HTTPLedger {
	if client == nil {
		client = http.DefaultClient
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPLedger{
		url:        url,
		client:     client,
		timeout:    timeout,
		maxRetries: uint64(maxRetries),
	}
}

type appendRequest struct {
	ContentHash string `json:"content_hash"`
}

type appendResponse struct {
	Token string `json:"token"`
}

type verifyRequest struct {
	Token       string `json:"token"`
	ContentHash string `json:"content_hash"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (l *HTTPLedger) Append(ctx context.Context, contentHash []byte) (string, error) {
	body, err := json.Marshal(appendRequest{ContentHash: hex.EncodeToString(contentHash)})
	if err != nil {
		return "", err
	}

	var out appendResponse
	if err := l.post(ctx, "/v1/append", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("ledger returned empty token")
	}

	return out.Token, nil
}

func (l *HTTPLedger) Verify(ctx context.Context, token string, contentHash []byte) (bool, error) {
	body, err := json.Marshal(verifyRequest{Token: token, ContentHash: hex.EncodeToString(contentHash)})
	if err != nil {
		return false, err
	}

	var out verifyResponse
	if err := l.post(ctx, "/v1/verify", body, &out); err != nil {
		return false, err
	}

	return out.Valid, nil
}

// post sends one JSON request with per-attempt timeout and backoff retries.
func (l *HTTPLedger) post(ctx context.Context, path string, body []byte, out interface{}) error {
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, l.url+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("malformed ledger response: %w", err))
			}
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("ledger returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("ledger rejected request with status %d", resp.StatusCode))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.maxRetries),
		ctx,
	)

	return backoff.Retry(operation, policy)
}
