// Package extract holds text-extraction implementations behind the
// domain.Extractor contract. PDF and OCR extraction stay external
// collaborators reached over HTTP; Plaintext serves pre-extracted
// corpora and tests.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alexban14/ai.dok/internal/domain"
)

// Plaintext passes document bytes through as UTF-8 text.
type Plaintext struct{}

var _ domain.Extractor = Plaintext{}

func (Plaintext) Extract(_ context.Context, data []byte) (string, error) {
	return string(data), nil
}

// HTTP calls a remote extraction service: POST <base>/extract with the
// raw bytes, JSON {"text": "..."} back. OCR fallback is the service's
// concern; latency is unbounded, so the caller's context carries the
// deadline.
type HTTP struct {
	baseURL string
	client  *http.Client
}

var _ domain.Extractor = (*HTTP)(nil)

// NewHTTP creates the extraction client.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTP{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (e *HTTP) Extract(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build extract request: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: extract request: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: extract status %d: %s",
			domain.ErrExternalUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode extract response: %v", domain.ErrExternalUnavailable, err)
	}
	return parsed.Text, nil
}
