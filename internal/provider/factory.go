package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config controls construction of the ordered provider chain.
type Config struct {
	Order     []string
	Timeout   time.Duration
	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	HTTP      HTTPConfig
}

// NewChain builds providers in the configured order. Missing credentials for any
// listed provider are a configuration error.
func NewChain(cfg Config) ([]Provider, error) {
	if len(cfg.Order) == 0 {
		return nil, errors.New("at least one summary provider must be configured")
	}

	seen := make(map[string]struct{}, len(cfg.Order))
	chain := make([]Provider, 0, len(cfg.Order))
	for _, raw := range cfg.Order {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("summary provider %q listed twice", name)
		}
		seen[name] = struct{}{}

		p, err := newProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, errors.New("at least one summary provider must be configured")
	}
	return chain, nil
}

func newProvider(name string, cfg Config) (Provider, error) {
	switch name {
	case "anthropic":
		c := cfg.Anthropic
		if c.Timeout <= 0 {
			c.Timeout = cfg.Timeout
		}
		return NewAnthropicProvider(c)
	case "openai":
		c := cfg.OpenAI
		if c.Timeout <= 0 {
			c.Timeout = cfg.Timeout
		}
		return NewOpenAIProvider(c)
	case "http":
		c := cfg.HTTP
		if c.Timeout <= 0 {
			c.Timeout = cfg.Timeout
		}
		return NewHTTPProvider(c)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported summary provider %q (expected anthropic|openai|http|mock)", name)
	}
}
