package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiGenerateSendsSystemInstructionAndJSONMode(t *testing.T) {
	var got geminiRequest
	var gotPath, gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		assert.Empty(t, r.URL.RawQuery)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "{\"a\":"}, {"text": "1}"}], "role": "model"}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 5, "totalTokenCount": 17}
		}`))
	}))
	defer srv.Close()

	g := NewGeminiClient("test-key", srv.URL)
	resp, err := g.Generate(context.Background(), &GenerateRequest{
		Model:             "gemini-2.5-flash",
		Prompt:            "hello",
		SystemInstruction: "be terse",
		Temperature:       0.3,
		JSONMode:          true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be terse", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
	assert.Equal(t, "hello", got.Contents[0].Parts[0].Text)

	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestGeminiStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      ErrorCode
		retryable bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{}`, CodeRateLimit, true},
		{"quota on 429", http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`, CodeQuotaExceeded, true},
		{"quota on 403", http.StatusForbidden, `quota exhausted`, CodeQuotaExceeded, true},
		{"forbidden", http.StatusForbidden, `denied`, CodeForbidden, false},
		{"unauthorized", http.StatusUnauthorized, `bad key`, CodeUnauthorized, false},
		{"model not found", http.StatusNotFound, `no such model`, CodeModelNotFound, false},
		{"bad request", http.StatusBadRequest, `invalid argument`, CodeBadRequest, false},
		{"server busy", http.StatusServiceUnavailable, `overloaded`, CodeServiceError, true},
		{"internal", http.StatusInternalServerError, ``, CodeServiceError, true},
		{"gateway timeout", http.StatusGatewayTimeout, ``, CodeTimeout, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g := NewGeminiClient("k", srv.URL)
			_, err := g.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
			require.Error(t, err)

			var aiErr *Error
			require.ErrorAs(t, err, &aiErr)
			assert.Equal(t, tc.code, aiErr.Code)
			assert.Equal(t, tc.retryable, aiErr.Retryable)
			assert.Equal(t, tc.status, aiErr.StatusCode)
		})
	}
}

func TestClassifyHeuristics(t *testing.T) {
	tests := []struct {
		msg       string
		retryable bool
	}{
		{"429 Too Many Requests", true},
		{"rate limit exceeded", true},
		{"Quota exceeded for metric", true},
		{"503 UNAVAILABLE", true},
		{"500 internal", true},
		{"Resource exhausted", true},
		{"deadline exceeded while awaiting headers", true},
		{"the model is temporarily overloaded", true},
		{"EOF", true},
		{"dial tcp 10.0.0.1:443: connect: connection refused", true},
		{"API key not valid. Please pass a valid API key.", false},
		{"models/gemini-9 is not found for API version v1beta", false},
		{"invalid argument: temperature", false},
	}
	for _, tc := range tests {
		t.Run(tc.msg, func(t *testing.T) {
			got := Classify(errors.New(tc.msg))
			assert.Equal(t, tc.retryable, got.Retryable)
		})
	}
}

func TestClassifyKeepsStructuredErrors(t *testing.T) {
	orig := &Error{Code: CodeBadRequest, Message: "429 mentioned in text but status is 400"}
	got := Classify(orig)
	assert.Same(t, orig, got)
	assert.False(t, got.Retryable)

	assert.True(t, Classify(context.DeadlineExceeded).Retryable)
	assert.False(t, Classify(context.Canceled).Retryable)
	assert.Nil(t, Classify(nil))
}

// dropConnection accepts the request and closes the socket without replying
func dropConnection(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
}

func TestGeminiTransportErrorHidesAPIKey(t *testing.T) {
	const key = "SUPER-SECRET-KEY"
	srv := dropConnection(t)
	defer srv.Close()

	g := NewGeminiClient(key, srv.URL)
	_, err := g.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)

	var aiErr *Error
	require.ErrorAs(t, err, &aiErr)
	assert.True(t, aiErr.Retryable)
	assert.NotContains(t, err.Error(), key)
	assert.NotContains(t, err.Error(), srv.URL)
	assert.True(t, strings.HasPrefix(aiErr.Message, "failed to reach Gemini"))
}

func TestGenerateWithRetryNeverLeaksAPIKey(t *testing.T) {
	const key = "SUPER-SECRET-KEY"
	srv := dropConnection(t)
	defer srv.Close()

	client, sleeper := newTestClient(t, NewGeminiClient(key, srv.URL))
	_, err := client.GenerateWithRetry(context.Background(), Request{Model: "m", Prompt: "p", MaxRetries: 2, Format: FormatJSON})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), key)
	assert.Len(t, sleeper.sleeps, 1)
}
