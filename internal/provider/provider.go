// Package provider adapts text-generation backends to a single Generate call.
//
// Adapters make exactly one upstream attempt per call and never retry; moving on
// to the next backend is the caller's policy. Each call is bounded by the
// adapter's own timeout.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ent0n29/echoverse/internal/reliability"
)

const (
	defaultTimeout     = 12 * time.Second
	defaultMaxTokens   = 100
	defaultTemperature = 0.7
)

// Provider generates a short text from a transcript and a free-form instruction.
type Provider interface {
	Name() string
	// Generate returns the first line of the model output with control
	// characters removed, or an *Error.
	Generate(ctx context.Context, transcript, instruction string) (string, error)
}

// Error is the typed failure returned by adapters.
type Error struct {
	Provider string
	Kind     reliability.Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to unknown.
func KindOf(err error) reliability.Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return reliability.KindFromError(err)
}

func newError(provider string, kind reliability.Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

var errEmptyOutput = errors.New("empty model output")

// finish trims raw output to its first non-empty line.
func finish(provider, raw string) (string, error) {
	line := FirstLine(raw)
	if line == "" {
		return "", newError(provider, reliability.KindInvalidResponse, errEmptyOutput)
	}
	return line, nil
}

// FirstLine returns the first non-blank line of s with control characters removed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = StripControl(line)
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// StripControl removes control and format characters, keeping ordinary spaces.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// BuildPrompt joins the instruction and transcript into one user message.
func BuildPrompt(instruction, transcript string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return instruction + "\n\nHere's the conversation:\n" + strings.TrimSpace(transcript) +
		"\n\nImportant: Return ONLY ONE line, with no line breaks, quotes or explanations."
}

// DefaultInstruction asks for a short reflective phrase.
const DefaultInstruction = `Create a very short, single line of poetic verse (at most 8 words) that captures the essence of this conversation between User and Dela. Focus on:

1. The user's core emotions and feelings
2. Key thoughts or reflections
3. The emotional journey`

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// classifyContext reports a timeout when the call's own deadline fired.
func classifyContext(ctx context.Context, err error) reliability.Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return reliability.KindTimeout
	}
	return reliability.KindFromError(err)
}
