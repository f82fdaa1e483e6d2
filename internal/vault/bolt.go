package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltBackend is the last-resort backend: plain local persistence in a bbolt file, one bucket per service.
type BoltBackend struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the bbolt file at path and ensures the bucket for service exists.
func OpenBolt(path, service string) (*BoltBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("vault path is required")
	}
	if strings.TrimSpace(service) == "" {
		return nil, fmt.Errorf("vault service is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}
	b := &BoltBackend{db: db, bucket: []byte(service)}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vault bucket: %w", err)
	}
	return b, nil
}

// Close closes the underlying bbolt database.
func (b *BoltBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Name returns "file".
func (b *BoltBackend) Name() string { return "file" }

// Available returns nil while the database is open.
func (b *BoltBackend) Available(ctx context.Context) error {
	if b == nil || b.db == nil {
		return fmt.Errorf("vault storage is not configured")
	}
	return ctx.Err()
}

// Put writes value under key.
func (b *BoltBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.Available(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("vault bucket is missing")
		}
		return bucket.Put([]byte(key), value)
	})
}

// Get returns a copy of the value under key.
func (b *BoltBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.Available(ctx); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("vault bucket is missing")
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Delete removes key.
func (b *BoltBackend) Delete(ctx context.Context, key string) error {
	if err := b.Available(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("vault bucket is missing")
		}
		return bucket.Delete([]byte(key))
	})
}
