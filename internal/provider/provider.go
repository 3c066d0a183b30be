// Package provider normalizes the heterogeneous vision and embedding
// backends behind one capability surface. Callers depend only on the
// Provider interface; the active variant is fixed by configuration at
// construction time.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/screenvault/screenvault/internal/models"
)

// Provider is the uniform analysis and embedding contract. Analyze
// returns the normalized result for an image; Embed turns text into a
// fixed-dimension vector. Both are bounded by a per-call deadline set
// inside the implementation.
type Provider interface {
	Name() string
	Dimensions() int
	EmbeddingModel() string
	Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Failure taxonomy. RateLimited and Timeout are transient; auth
// failures are permanent; a malformed response gets one retry before
// being treated as permanent.
var (
	ErrRateLimited     = errors.New("provider: rate limited")
	ErrTimeout         = errors.New("provider: request timed out")
	ErrInvalidResponse = errors.New("provider: invalid response")
	ErrAuthFailure     = errors.New("provider: authentication failed")
	ErrUnavailable     = errors.New("provider: backend unavailable")
)

// IsRetryable reports whether an error is transient and worth
// retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// RetryOnce reports whether the error allows exactly one retry.
func RetryOnce(err error) bool {
	return errors.Is(err, ErrInvalidResponse)
}

// classifyStatus maps an HTTP status code to the taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuthFailure, status, truncate(body, 200))
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, truncate(body, 200))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, status, truncate(body, 200))
	}
}

// classifyTransport maps a transport-level error, folding context
// deadline expiry into the Timeout bucket.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// analysisPrompt instructs vision models to return the normalized
// shape every provider maps into.
const analysisPrompt = `Analyze this screenshot and return a JSON object with exactly these fields:
{
  "tag": "one short label categorizing the screenshot (e.g. 'code', 'chat', 'article', 'social_media', 'documentation')",
  "description": "a detailed description of what the screenshot shows",
  "raw_text": "all visible text extracted verbatim, preserving the original language"
}
Identify the application or website shown, extract all readable text, and describe the context and purpose. Return only the JSON object.`
