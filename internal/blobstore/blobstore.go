// Package blobstore holds raw and anonymized audio as immutable,
// content-addressed objects.
//
// Keys have the form "<prefix>/<sha256 hex>". Writing the same bytes under the
// same prefix always yields the same key, which makes re-executed pipeline
// stages converge on one object instead of producing duplicates.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"ventpipe/internal/config"
)

// ErrNotFound is returned by Get when the key has no object.
var ErrNotFound = errors.New("blob not found")

// Store is the content-addressed audio store.
type Store interface {
	// Put stores data under prefix and returns its content key.
	Put(ctx context.Context, prefix string, data []byte) (string, error)
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key has an object.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Key prefixes used by the pipeline.
const (
	PrefixRaw  = "raw"
	PrefixAnon = "anon"
)

// ContentKey returns the key data would be stored under.
func ContentKey(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return cleanPrefix(prefix) + "/" + hex.EncodeToString(sum[:])
}

// New builds the store selected by cfg.Blob.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Blob.Backend {
	case "", config.BlobBackendFilesystem:
		return NewFilesystem(cfg.Paths.BlobDir)
	case config.BlobBackendMinio:
		return NewMinio(ctx,
			WithEndpoint(cfg.Blob.Endpoint),
			WithBucket(cfg.Blob.Bucket),
			WithRegion(cfg.Blob.Region),
			WithAccessKey(cfg.Blob.AccessKey),
			WithSecretKey(cfg.Blob.SecretKey),
			WithSSL(cfg.Blob.UseSSL),
		)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "blob"
	}
	return prefix
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("blob key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
