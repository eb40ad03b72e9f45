package extract

import (
	"context"

	"github.com/podushkina/docextract/internal/task"
)

// Request carries one document's bytes to the extraction provider.
type Request struct {
	Kind     task.Kind
	MIMEType string
	Data     []byte
}

// Response is the provider's raw output: response text (possibly a
// fenced JSON block) plus token usage counters.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is the remote extraction capability. Implementations may
// block for the duration of the remote call; callers pass a context
// and must be prepared for errors.
type Provider interface {
	Extract(ctx context.Context, req Request) (*Response, error)
}
