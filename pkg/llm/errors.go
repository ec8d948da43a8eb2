package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/insightx/pkg/credential"
	"github.com/openai/openai-go"
)

// UpstreamError is a provider failure classified for credential bookkeeping
type UpstreamError struct {
	Kind       credential.FailureKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, classifying it when needed.
func KindOf(err error) credential.FailureKind {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(Classify(err), &upstream) {
		return upstream.Kind
	}
	return credential.FailureUnknown
}

// Classify wraps a raw provider error into an UpstreamError.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return &UpstreamError{Kind: kindForStatus(oaiErr.StatusCode), StatusCode: oaiErr.StatusCode, Err: err}
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return &UpstreamError{Kind: kindForStatus(antErr.StatusCode), StatusCode: antErr.StatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: credential.FailureTransient, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &UpstreamError{Kind: credential.FailureTransient, Err: err}
	}

	return &UpstreamError{Kind: kindForMessage(err.Error()), Err: err}
}

func kindForStatus(code int) credential.FailureKind {
	switch {
	case code == http.StatusTooManyRequests:
		return credential.FailureRateLimited
	case code == http.StatusUnauthorized, code == http.StatusPaymentRequired, code == http.StatusForbidden:
		return credential.FailureAuth
	case code == http.StatusRequestTimeout, code >= 500:
		return credential.FailureTransient
	default:
		return credential.FailureUnknown
	}
}

// kindForMessage covers errors that reach us without a status code.
func kindForMessage(msg string) credential.FailureKind {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"), strings.Contains(lower, "429"):
		return credential.FailureRateLimited
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "forbidden"), strings.Contains(lower, "quota"), strings.Contains(lower, "401"):
		return credential.FailureAuth
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "connection reset"), strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "eof"):
		return credential.FailureTransient
	default:
		return credential.FailureUnknown
	}
}
