// Package reviewapi is the HTTP client for the external clinical note review
// and enhancement service.
package reviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

const maxErrorBody = 512

// HTTPClient implements providers.ReviewProvider and
// providers.EnhancementProvider against the review service REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// enhanceResponse keeps the enhancement as raw bytes so key order survives
// until the payload is parsed.
type enhanceResponse struct {
	Status      string          `json:"status"`
	Enhancement json.RawMessage `json:"enhancement"`
}

// NewClient creates a client for baseURL. timeout bounds every call; callers
// may tighten it further through the context.
func NewClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Review submits a note for review.
func (c *HTTPClient) Review(ctx context.Context, req entities.ReviewRequest) (*entities.ReviewResult, error) {
	out := &entities.ReviewResult{}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/review", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Enhance requests structured content for a reviewed note. The service may
// return the enhancement inline as JSON or as a JSON-encoded string; both
// come back as raw payload bytes.
func (c *HTTPClient) Enhance(ctx context.Context, req entities.EnhanceRequest) (*entities.EnhanceResult, error) {
	if strings.TrimSpace(req.CorrelationID) == "" {
		return nil, apperrors.NewValidationError("correlation id is required")
	}

	out := &enhanceResponse{}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/enhance", req, out); err != nil {
		return nil, err
	}

	payload := bytes.TrimSpace(out.Enhancement)
	if len(payload) > 0 && payload[0] == '"' {
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, apperrors.NewExternalError("enhancement string could not be decoded", err)
		}
		payload = []byte(strings.TrimSpace(text))
	}
	if bytes.Equal(payload, []byte("null")) {
		payload = nil
	}

	return &entities.EnhanceResult{Status: out.Status, Payload: payload}, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.NewInternalError("failed to encode review api request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewInternalError("failed to build review api request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.NewExternalError("review api request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.NewExternalError(
			fmt.Sprintf("review api returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewExternalError("review api returned an unreadable response", err)
	}
	return nil
}
