package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Document field names, shared with documents written by earlier clients.
const (
	fieldKey         = "chatId"
	fieldText        = "text"
	fieldOrigin      = "origin"
	fieldPlaceholder = "isPlaceholder"
	fieldCreatedAt   = "createdAt"
)

// legacyPlaceholderTexts are the canned phrases earlier clients saved without
// an isPlaceholder field.
var legacyPlaceholderTexts = []string{
	"Time flows like river's song",
	"Silence holds stories untold",
	"Whispers echo in empty space",
}

// FirestoreConfig controls Firestore store construction.
type FirestoreConfig struct {
	ProjectID       string
	Collection      string
	CredentialsFile string
}

// FirestoreStore keeps one document per conversation key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = "poems"
	}

	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (Record, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get summary: %w", err)
	}
	return decodeFirestoreRecord(key, snap.Data())
}

func (s *FirestoreStore) Put(ctx context.Context, rec Record, policy WritePolicy) (PutResult, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ref := s.doc(rec.Key)
	data := encodeFirestoreRecord(rec)

	switch policy {
	case WriteForce:
		if _, err := ref.Set(ctx, data); err != nil {
			return PutResult{}, fmt.Errorf("set summary: %w", err)
		}
		return PutResult{Record: rec, Written: true}, nil

	case WriteIfAbsent:
		_, err := ref.Create(ctx, data)
		if err == nil {
			return PutResult{Record: rec, Written: true}, nil
		}
		if status.Code(err) != codes.AlreadyExists {
			return PutResult{}, fmt.Errorf("create summary: %w", err)
		}
		existing, err := s.Get(ctx, rec.Key)
		if err != nil {
			return PutResult{}, fmt.Errorf("read canonical summary: %w", err)
		}
		return PutResult{Record: existing}, nil

	default:
		var result PutResult
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			exists := true
			if status.Code(err) == codes.NotFound {
				exists = false
			} else if err != nil {
				return err
			}
			var existing Record
			if exists {
				existing, err = decodeFirestoreRecord(rec.Key, snap.Data())
				if err != nil {
					return err
				}
			}
			if !policy.allows(existing, exists) {
				result = PutResult{Record: existing}
				return nil
			}
			result = PutResult{Record: rec, Written: true}
			return tx.Set(ref, data)
		})
		if err != nil {
			return PutResult{}, fmt.Errorf("replace summary: %w", err)
		}
		return result, nil
	}
}

func (s *FirestoreStore) Lookup(ctx context.Context, keys []string) ([]Record, error) {
	keys = dedupKeys(keys)
	var out []Record
	for _, chunk := range chunkKeys(keys, lookupChunkSize) {
		snaps, err := s.client.Collection(s.collection).
			Where(fieldKey, "in", chunk).
			Documents(ctx).
			GetAll()
		if err != nil {
			return nil, fmt.Errorf("query summaries: %w", err)
		}
		for _, snap := range snaps {
			rec, err := decodeFirestoreRecord(snap.Ref.ID, snap.Data())
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FirestoreStore) Kind() string { return "firestore" }

func (s *FirestoreStore) Close() error { return s.client.Close() }

func encodeFirestoreRecord(rec Record) map[string]any {
	return map[string]any{
		fieldKey:         rec.Key,
		fieldText:        rec.Text,
		fieldOrigin:      string(rec.Origin),
		fieldPlaceholder: rec.Placeholder,
		fieldCreatedAt:   rec.CreatedAt,
	}
}

// decodeFirestoreRecord accepts documents without origin/isPlaceholder and with
// createdAt stored as an ISO-8601 string. An unflagged document holding a
// legacy canned phrase decodes as a placeholder.
func decodeFirestoreRecord(docID string, data map[string]any) (Record, error) {
	rec := Record{Key: docID}
	if v, ok := data[fieldKey].(string); ok && v != "" {
		rec.Key = v
	}
	text, ok := data[fieldText].(string)
	if !ok {
		return Record{}, fmt.Errorf("summary %q: missing text field", docID)
	}
	rec.Text = text
	if v, ok := data[fieldOrigin].(string); ok {
		rec.Origin = Origin(v)
	}
	if v, ok := data[fieldPlaceholder].(bool); ok {
		rec.Placeholder = v
	} else {
		rec.Placeholder = slices.Contains(legacyPlaceholderTexts, text)
	}
	switch v := data[fieldCreatedAt].(type) {
	case time.Time:
		rec.CreatedAt = v.UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = ts.UTC()
		}
	}
	return rec, nil
}
