// Package summary turns a conversation transcript into a short reflective
// one-line summary, reusing stored results and falling back across providers.
package summary

import (
	"errors"
	"fmt"
	"time"
)

// Source tells the caller where the returned text came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceProviderA Source = "providerA"
	SourceProviderB Source = "providerB"
	SourceFallback  Source = "fallback"
	SourceDefault   Source = "default"
)

// Request is one inbound generate call.
type Request struct {
	ConversationKey string `json:"conversationKey"`
	Transcript      string `json:"transcript"`
	ForceRegenerate bool   `json:"forceRegenerate,omitempty"`
}

// Result is what the pipeline returns for a well-formed request.
type Result struct {
	Text        string    `json:"text"`
	Source      Source    `json:"source"`
	Placeholder bool      `json:"isPlaceholder"`
	Provider    string    `json:"provider,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// ErrInvalidRequest is the only error the pipeline surfaces for a request.
var ErrInvalidRequest = errors.New("invalid request")

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// sourceForPosition labels the i-th provider in the chain.
func sourceForPosition(i int) Source {
	switch i {
	case 0:
		return SourceProviderA
	case 1:
		return SourceProviderB
	default:
		return Source(fmt.Sprintf("provider%c", 'A'+rune(i)))
	}
}
