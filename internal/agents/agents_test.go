package agents

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"prepos/internal/ai"
)

// fakeInvoker answers every call with the same canned result or error
type fakeInvoker struct {
	mu    sync.Mutex
	calls []ai.Request
	data  string
	text  string
	err   error
}

func (f *fakeInvoker) GenerateWithRetry(ctx context.Context, req ai.Request) (*ai.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.text != "" {
		res := &ai.Result{Text: f.text, Model: req.Model}
		if req.Format == ai.FormatJSON {
			res.ParseError = "invalid character"
		}
		return res, nil
	}
	return &ai.Result{Data: json.RawMessage(f.data), Text: f.data, Model: req.Model}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRunner(inv Invoker, opts ...Option) *Runner {
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return NewRunner(inv, DefaultConfig(), opts...)
}

var errUnauthorized = &ai.Error{Code: ai.CodeUnauthorized, StatusCode: 401, Message: "invalid Gemini API key"}
