package s3blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal path-style object server.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := New(context.Background(), ClientConfig{
		Endpoint:       server.URL,
		Region:         "us-east-1",
		Bucket:         "snapshots",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Health(context.Background()))

	return NewStore(client), fake
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)

	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestStore_PutGet(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"pairs":[]}`)
	require.NoError(t, store.Put(ctx, "investable_pools/latest.json", bytes.NewReader(payload), "application/json"))

	fake.mu.Lock()
	_, ok := fake.objects["snapshots/investable_pools/latest.json"]
	contentType := fake.types["snapshots/investable_pools/latest.json"]
	fake.mu.Unlock()
	assert.True(t, ok, "object stored under bucket path")
	assert.Equal(t, "application/json", contentType)

	// The SDK may send the body aws-chunked; store the canonical payload for the read path.
	fake.mu.Lock()
	fake.objects["snapshots/investable_pools/latest.json"] = payload
	fake.mu.Unlock()

	got, err := store.Get(ctx, "investable_pools/latest.json")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "investable_pools/none.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
