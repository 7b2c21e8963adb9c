package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Prompt is one chat completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// Purpose labels the call in transcripts, e.g. "decision" or "analysis".
	Purpose string
}

// ModelProvider is one interchangeable "complete(prompt) -> text" backend.
type ModelProvider interface {
	ID() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ErrRateLimited matches a *StatusError with HTTP 429.
var ErrRateLimited = errors.New("provider: rate limited")

type StatusError struct {
	Model   string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s status=%d: %s", e.Model, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}
