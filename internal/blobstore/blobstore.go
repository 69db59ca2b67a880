// Package blobstore defines the BlobStore capability (spec.md §6.1):
// put/get large binary objects by key, plus a put_jsonl helper for the
// session artifacts (segments.jsonl, transactions.jsonl, grades.jsonl).
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hoptix/pipeline/internal/errors"
)

// BlobStore is the put/get-by-key capability the core depends on.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	PutJSONL(ctx context.Context, bucket, key string, records []any) error
}

// SessionKey builds the deriv/session=<run_id>/<name> key used for
// every intermediate artifact (spec.md §6.1).
func SessionKey(runID, name string) string {
	return fmt.Sprintf("deriv/session=%s/%s", runID, name)
}

// LocalStore is a filesystem-backed BlobStore implementation, standing
// in for the out-of-scope object-storage wire protocol (spec.md §1) in
// tests and single-node deployments.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (l *LocalStore) path(bucket, key string) string {
	return filepath.Join(l.Root, bucket, filepath.FromSlash(key))
}

func (l *LocalStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	p := l.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.New(err).Category(errors.CategoryBlobStore).Kind(errors.KindTransientExternal).
			Context("bucket", bucket).Context("key", key).Build()
	}
	if err := os.WriteFile(p, data, 0o644); err != nil { //nolint:gosec // local dev store
		return errors.New(err).Category(errors.CategoryBlobStore).Kind(errors.KindTransientExternal).
			Context("bucket", bucket).Context("key", key).Build()
	}
	return nil
}

func (l *LocalStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(err).Category(errors.CategoryBlobStore).
				Context("bucket", bucket).Context("key", key).Build()
		}
		return nil, errors.New(err).Category(errors.CategoryBlobStore).Kind(errors.KindTransientExternal).
			Context("bucket", bucket).Context("key", key).Build()
	}
	return data, nil
}

// PutJSONL writes records as newline-delimited JSON, one object per
// line, matching the segments.jsonl/transactions.jsonl/grades.jsonl
// artifact format (spec.md §6.1, §6.6).
func (l *LocalStore) PutJSONL(ctx context.Context, bucket, key string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return errors.Malformed(err, errors.CategoryBlobStore)
		}
	}
	return l.Put(ctx, bucket, key, buf.Bytes())
}
