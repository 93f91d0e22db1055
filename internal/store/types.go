package store

import (
	"context"
	"errors"
	"time"
)

// Origin records where a stored summary came from.
type Origin string

const (
	OriginProviderA Origin = "providerA"
	OriginProviderB Origin = "providerB"
	OriginFallback  Origin = "fallback"
	OriginDefault   Origin = "default"
)

// Record is the persisted summary for one conversation.
type Record struct {
	Key         string    `json:"conversationKey"`
	Text        string    `json:"text"`
	Origin      Origin    `json:"origin"`
	Placeholder bool      `json:"isPlaceholder"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WritePolicy selects the conditional-write behavior of Put.
type WritePolicy int

const (
	// WriteIfAbsent stores the record only when the key has no record yet.
	WriteIfAbsent WritePolicy = iota
	// WriteReplacePlaceholder stores the record when the key is absent or
	// currently holds a placeholder.
	WriteReplacePlaceholder
	// WriteForce overwrites unconditionally.
	WriteForce
)

func (p WritePolicy) String() string {
	switch p {
	case WriteIfAbsent:
		return "if_absent"
	case WriteReplacePlaceholder:
		return "replace_placeholder"
	case WriteForce:
		return "force"
	default:
		return "unknown"
	}
}

// allows reports whether a write under p may replace existing.
func (p WritePolicy) allows(existing Record, exists bool) bool {
	if !exists {
		return true
	}
	switch p {
	case WriteForce:
		return true
	case WriteReplacePlaceholder:
		return existing.Placeholder
	default:
		return false
	}
}

// PutResult is the canonical state of a key after a conditional write.
type PutResult struct {
	Record  Record
	Written bool
}

var ErrNotFound = errors.New("summary not found")

// lookupChunkSize bounds keys per backend query; Firestore caps "in" filters at 30.
const lookupChunkSize = 30

// Store is the system of record for conversation summaries.
type Store interface {
	// Get returns ErrNotFound when the key has no record.
	Get(ctx context.Context, key string) (Record, error)
	// Put applies rec under policy and returns the record that is canonical
	// afterwards, which is rec itself when Written is true.
	Put(ctx context.Context, rec Record, policy WritePolicy) (PutResult, error)
	// Lookup returns the records that exist for keys, in no particular order.
	Lookup(ctx context.Context, keys []string) ([]Record, error)
	Kind() string
	Close() error
}

func chunkKeys(keys []string, size int) [][]string {
	if size <= 0 {
		size = lookupChunkSize
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

func dedupKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
