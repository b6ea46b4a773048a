package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KVStore keeps the blob under one key of a JetStream key-value bucket.
// JetStream caps values at the server's max_payload (1MB by default);
// enable compression for large arm sets.
type KVStore struct {
	kv  jetstream.KeyValue
	key string
}

// NewKVStore wraps an already opened bucket.
func NewKVStore(kv jetstream.KeyValue, key string) (*KVStore, error) {
	if kv == nil {
		return nil, errors.New("key-value bucket is required")
	}
	if key == "" {
		return nil, errors.New("checkpoint key is required")
	}
	return &KVStore{kv: kv, key: key}, nil
}

// OpenKVStore creates or opens bucket and returns a store for key.
func OpenKVStore(ctx context.Context, js jetstream.JetStream, bucket, key string) (*KVStore, error) {
	kv, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "velocity bandit checkpoints",
		History:     5,
		Storage:     jetstream.FileStorage,
	}, 3)
	if err != nil {
		return nil, err
	}
	return NewKVStore(kv, key)
}

// EnsureBucket creates the bucket or opens it if another process created
// it first, retrying transient failures with exponential backoff.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}

func (s *KVStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.kv.Bucket(), s.key, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("put %s/%s: %w", s.kv.Bucket(), s.key, err)
	}
	return nil
}

// Close is a no-op; the NATS connection belongs to the caller.
func (s *KVStore) Close() error { return nil }
