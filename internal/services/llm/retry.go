package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Retryable reports whether a provider error is worth another attempt.
// Rate limits, server-side failures, and network timeouts are retryable;
// auth failures, bad requests, and context cancellation are not.
//
// The collector owns the retry loop; providers just surface raw errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	// Gemini surfaces quota and availability failures as formatted strings
	// rather than a stable typed error, so classify on the message.
	errStr := err.Error()
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota") {
		return true
	}
	for _, marker := range []string{"500", "502", "503", "504", "UNAVAILABLE", "INTERNAL"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}
