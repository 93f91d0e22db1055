package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/echoverse/internal/reliability"
)

const (
	defaultOpenAIBaseURL = "https://api.deepseek.com"
	defaultOpenAIModel   = "deepseek-chat"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider calls any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai provider requires OPENAI_API_KEY")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, transcript, instruction string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(instruction, transcript),
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", newError(p.Name(), reliability.KindFromHTTPStatus(apiErr.HTTPStatusCode), err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", newError(p.Name(), reliability.KindFromHTTPStatus(reqErr.HTTPStatusCode), err)
		}
		return "", newError(p.Name(), classifyContext(ctx, err), err)
	}

	if len(resp.Choices) == 0 {
		return "", newError(p.Name(), reliability.KindInvalidResponse, errors.New("no choices in response"))
	}
	return finish(p.Name(), resp.Choices[0].Message.Content)
}
