package task

import (
	"strings"
	"time"
)

type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRevoked State = "REVOKED"
)

// Terminal reports whether s admits no further transitions.
// REVOKED is not terminal: a worker that already claimed the task
// may still overwrite it with SUCCESS or FAILURE.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// KindFromMIME maps a declared MIME type to a document kind.
// Unsupported types are rejected before a task is ever created.
func KindFromMIME(mimeType string) (Kind, bool) {
	switch {
	case mimeType == "application/pdf":
		return KindPDF, true
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage, true
	default:
		return "", false
	}
}

// InputRef points at already-validated, already-persisted source content.
type InputRef struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// Result is a tagged variant: exactly one of Markdown or Message is
// meaningful, discriminated by Failed.
type Result struct {
	Markdown     string `json:"markdown,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Message      string `json:"error,omitempty"`
	Failed       bool   `json:"failed"`
}

func Success(markdown string, inputTokens, outputTokens int) *Result {
	return &Result{Markdown: markdown, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func Failure(message string) *Result {
	return &Result{Message: message, Failed: true}
}

type Task struct {
	ID        string    `json:"id"`
	Input     InputRef  `json:"input"`
	State     State     `json:"state"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
