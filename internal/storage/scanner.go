package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carelock/carelock/internal/models"
)

// ScanResult is the malware scanner's verdict. A non-clean result carries
// the detection reason for audit purposes.
type ScanResult struct {
	Clean  bool   `json:"clean"`
	Reason string `json:"reason,omitempty"`
}

// Scanner is the collaborator contract for malware scanning.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (*ScanResult, error)
}

// HTTPScanner calls a REST scanning endpoint (clamd-style) that accepts
// the raw payload and answers with a JSON verdict.
type HTTPScanner struct {
	url    string
	client *http.Client
}

// NewHTTPScanner creates a scanner client. The http.Client's timeout caps
// each individual call; retries are the caller's concern.
func NewHTTPScanner(url string, client *http.Client) *HTTPScanner {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScanner{url: url, client: client}
}

func (s *HTTPScanner) Scan(ctx context.Context, data []byte) (*ScanResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/scan", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrScanUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrScanUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: scanner returned status %d", models.ErrScanUnavailable, resp.StatusCode)
	}

	var result ScanResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: malformed scanner response: %v", models.ErrScanUnavailable, err)
	}

	return &result, nil
}
