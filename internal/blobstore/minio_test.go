package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeS3 implements the handful of S3 calls the store issues, keyed by
// bucket/object path.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, object, _ := strings.Cut(path, "/")

	if object == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			f.listObjects(w, bucket, r.URL.Query())
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[path] = data
		w.Header().Set("ETag", etag(data))
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			writeS3Error(w, r, "NoSuchKey", bucket, object)
			return
		}
		w.Header().Set("ETag", etag(data))
		w.Header().Set("Last-Modified", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) listObjects(w http.ResponseWriter, bucket string, query url.Values) {
	prefix := query.Get("prefix")
	var keys []string
	for path := range f.objects {
		b, key, _ := strings.Cut(path, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", bucket, prefix, len(keys))
	for _, key := range keys {
		data := f.objects[bucket+"/"+key]
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><LastModified>2026-01-01T00:00:00.000Z</LastModified><ETag>%s</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>", key, etag(data), len(data))
	}
	sb.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, sb.String())
}

func writeS3Error(w http.ResponseWriter, r *http.Request, code, bucket, object string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	if r.Method == http.MethodHead {
		return
	}
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>not found</Message><BucketName>%s</BucketName><Key>%s</Key></Error>`, code, bucket, object)
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func newTestMinio(t *testing.T) (*Minio, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	store, err := NewMinio(context.Background(),
		WithEndpoint(endpoint),
		WithBucket("audio"),
		WithRegion("us-east-1"),
		WithAccessKey("access"),
		WithSecretKey("secret"),
	)
	require.NoError(t, err)
	return store, fake
}

func TestMinioCreatesBucketAndStoresObjects(t *testing.T) {
	store, fake := newTestMinio(t)
	ctx := context.Background()
	require.True(t, fake.buckets["audio"])

	key, err := store.Put(ctx, PrefixRaw, []byte("raw audio"))
	require.NoError(t, err)
	require.Equal(t, ContentKey(PrefixRaw, []byte("raw audio")), key)

	again, err := store.Put(ctx, PrefixRaw, []byte("raw audio"))
	require.NoError(t, err)
	require.Equal(t, key, again)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "raw audio", string(data))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	keys, err := store.List(ctx, PrefixRaw)
	require.NoError(t, err)
	require.Equal(t, []string{key}, keys)

	require.NoError(t, store.Delete(ctx, key))
	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMinioMissingObject(t *testing.T) {
	store, _ := newTestMinio(t)
	_, err := store.Get(context.Background(), "anon/missing")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}
