package ai

import (
	"context"
	"encoding/json"
	"time"
)

// Format selects how the model output is interpreted
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

const (
	// DefaultCallTimeout bounds a single model call
	DefaultCallTimeout = 120 * time.Second
	// DefaultMaxRetries is the attempt budget when a request does not set one
	DefaultMaxRetries = 3
)

// GenerateRequest is a single call against the model provider
type GenerateRequest struct {
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	SystemInstruction string  `json:"system_instruction,omitempty"`
	Temperature       float32 `json:"temperature"`
	JSONMode          bool    `json:"json_mode"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
}

// GenerateResponse is the raw provider answer
type GenerateResponse struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Usage represents token usage reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generator performs exactly one model call. Implementations report failures
// as *Error when the provider gives a structured status.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Limiter gates outbound model calls
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Request is what agent tasks hand to the retrying client
type Request struct {
	Model             string
	Prompt            string
	SystemInstruction string
	Temperature       float32
	MaxRetries        int
	Format            Format
}

// Result is the outcome of GenerateWithRetry.
//
// In JSON mode Data holds the parsed document. When the model returned text
// that is not valid JSON, Data is nil, Text carries the raw output and
// ParseError describes the failure. In text mode only Text is set.
type Result struct {
	Data       json.RawMessage
	Text       string
	ParseError string
	Model      string
	Attempts   int
}

// Parsed reports whether the result carries a structured document
func (r *Result) Parsed() bool {
	return r != nil && len(r.Data) > 0 && r.ParseError == ""
}
