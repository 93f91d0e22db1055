package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/echoverse/internal/reliability"
)

// HTTPConfig configures the generic JSON endpoint adapter.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPProvider posts {instruction, transcript} to a self-hosted endpoint.
type HTTPProvider struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

type httpGenerateRequest struct {
	Instruction string `json:"instruction"`
	Transcript  string `json:"transcript"`
	Prompt      string `json:"prompt"`
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("http provider requires SUMMARY_HTTP_PROVIDER_URL")
	}
	return &HTTPProvider{
		url:     url,
		token:   strings.TrimSpace(cfg.Token),
		timeout: cfg.Timeout,
		client:  &http.Client{},
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Generate(ctx context.Context, transcript, instruction string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(httpGenerateRequest{
		Instruction: instruction,
		Transcript:  transcript,
		Prompt:      BuildPrompt(instruction, transcript),
	})
	if err != nil {
		return "", newError(p.Name(), reliability.KindUnknown, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", newError(p.Name(), reliability.KindUnknown, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", newError(p.Name(), classifyContext(ctx, err), fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", newError(p.Name(), reliability.KindFromHTTPStatus(res.StatusCode),
			fmt.Errorf("http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", newError(p.Name(), classifyContext(ctx, err), fmt.Errorf("read response: %w", err))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if !strings.Contains(ct, "json") {
		return finish(p.Name(), string(body))
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", newError(p.Name(), reliability.KindInvalidResponse, fmt.Errorf("decode response: %w", err))
	}
	text := extractText(obj)
	if text == "" {
		return "", newError(p.Name(), reliability.KindInvalidResponse, errors.New("response has no text field"))
	}
	return finish(p.Name(), text)
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "summary", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
