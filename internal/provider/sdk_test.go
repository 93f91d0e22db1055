package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/echoverse/internal/reliability"
)

func TestOpenAIProviderFirstLine(t *testing.T) {
	var model string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		model = body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"cmpl-1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Soft rain on tired hearts\nBecause the user..."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`))
	}))
	defer ts.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: ts.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), "User: hi\nDela: hello", "")
	require.NoError(t, err)
	assert.Equal(t, "Soft rain on tired hearts", text)
	assert.Equal(t, "test-model", model)
}

func TestOpenAIProviderRateLimitedNoRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer ts.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "t", "")
	require.Error(t, err)
	assert.Equal(t, reliability.KindRateLimited, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer ts.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "t", "")
	require.Error(t, err)
	assert.Equal(t, reliability.KindInvalidResponse, KindOf(err))
}

func TestAnthropicProviderTextBlock(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "a-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"\"Hope wakes in the quiet\"\n(explanation)"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":12,"output_tokens":8}
		}`))
	}))
	defer ts.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "a-key", BaseURL: ts.URL})
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), "User: hi\nDela: hello", "")
	require.NoError(t, err)
	assert.Equal(t, `"Hope wakes in the quiet"`, text)
}

func TestAnthropicProviderAuthFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer ts.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "bad", BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "t", "")
	require.Error(t, err)
	assert.Equal(t, reliability.KindAuthFailure, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}
