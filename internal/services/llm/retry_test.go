package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "dial tcp: i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "context canceled",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "wrapped deadline exceeded",
			err:  fmt.Errorf("generate content: %w", context.DeadlineExceeded),
			want: false,
		},
		{
			name: "network timeout",
			err:  fakeTimeoutError{},
			want: true,
		},
		{
			name: "anthropic rate limit",
			err:  &anthropic.Error{StatusCode: 429},
			want: true,
		},
		{
			name: "anthropic server error",
			err:  &anthropic.Error{StatusCode: 503},
			want: true,
		},
		{
			name: "anthropic auth failure",
			err:  &anthropic.Error{StatusCode: 401},
			want: false,
		},
		{
			name: "anthropic bad request",
			err:  &anthropic.Error{StatusCode: 400},
			want: false,
		},
		{
			name: "gemini quota string",
			err:  errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED: quota exceeded"),
			want: true,
		},
		{
			name: "gemini unavailable string",
			err:  errors.New("rpc error: code = UNAVAILABLE desc = service overloaded"),
			want: true,
		},
		{
			name: "gemini internal string",
			err:  errors.New("googleapi: Error 500: INTERNAL"),
			want: true,
		},
		{
			name: "plain validation error",
			err:  errors.New("prompt is empty"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
