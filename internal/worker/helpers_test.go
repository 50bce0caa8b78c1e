package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"async-image-tools/internal/backoff"
	"async-image-tools/internal/callback"
	"async-image-tools/internal/config"
	"async-image-tools/internal/transform"
)

// memStore is an in-memory ObjectStore fake.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	ctypes   map[string]string
	failPut  bool
	failList bool
	failGet  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		objects: map[string][]byte{},
		ctypes:  map[string]string{},
		failGet: map[string]bool{},
	}
}

func (m *memStore) locator(bucket, key string) string { return bucket + "/" + key }

func (m *memStore) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return fmt.Errorf("put object %s/%s: injected failure", bucket, key)
	}
	m.objects[m.locator(bucket, key)] = append([]byte(nil), body...)
	m.ctypes[m.locator(bucket, key)] = contentType
	return nil
}

func (m *memStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet[key] {
		return nil, fmt.Errorf("get object %s/%s: injected failure", bucket, key)
	}
	body, ok := m.objects[m.locator(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("get object %s/%s: not found", bucket, key)
	}
	return body, nil
}

func (m *memStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, fmt.Errorf("list objects %s/%s: injected failure", bucket, prefix)
	}
	var keys []string
	for loc := range m.objects {
		if len(loc) > len(bucket)+1 && loc[:len(bucket)+1] == bucket+"/" {
			key := loc[len(bucket)+1:]
			if prefix == "" || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://cos.example.com/presigned/" + bucket + "/" + key, nil
}

// stubEditor runs the provided function as the transform gateway.
type stubEditor struct {
	fn func(ctx context.Context, img []byte, prompt string) (transform.Result, error)
}

func (s *stubEditor) Edit(ctx context.Context, img []byte, prompt string) (transform.Result, error) {
	return s.fn(ctx, img, prompt)
}

func okEditor(out []byte, ext string) *stubEditor {
	return &stubEditor{fn: func(context.Context, []byte, string) (transform.Result, error) {
		return transform.Result{Bytes: out, MIME: transform.MIMEForFormat(ext), Ext: ext}, nil
	}}
}

func quotaError() error {
	return &transform.UpstreamError{
		Kind:    transform.UpstreamQuotaExceeded,
		Status:  403,
		Code:    "billing_hard_limit_reached",
		Message: "Billing hard limit has been reached",
	}
}

// callbackCapture records every callback POST it receives.
type callbackCapture struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies [][]byte
}

func newCallbackCapture() *callbackCapture {
	c := &callbackCapture{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, buf.Bytes())
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return c
}

func (c *callbackCapture) Close() { c.srv.Close() }

func (c *callbackCapture) URL() string { return c.srv.URL }

func (c *callbackCapture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *callbackCapture) Decode(t *testing.T, i int, into any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.bodies) {
		t.Fatalf("no callback body at index %d (have %d)", i, len(c.bodies))
	}
	if err := json.Unmarshal(c.bodies[i], into); err != nil {
		t.Fatalf("decode callback body: %v", err)
	}
}

func testConfig() config.Config {
	return config.Config{
		MaxImageBase64Chars:  14_000_000,
		MaxConcurrentJobs:    4,
		BatchErrorsReported:  20,
		EnableFallbackSingle: true,
		COSInputBucket:       "input-images",
		COSOutputBucket:      "wxo-images",
		COSInputPrefix:       "demo/",
		COSOutputPrefix:      "results/batch",
		COSPresignExpires:    900 * time.Second,
	}
}

func newTestRunner(cfg config.Config, store *memStore, editor transform.Editor) *Runner {
	d := callback.New(callback.Options{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    backoff.New([]time.Duration{time.Millisecond}),
	}, zerolog.Nop())
	return New(context.Background(), cfg, store, editor, d, NewGate(cfg.MaxConcurrentJobs), zerolog.Nop())
}

// tinyPNG returns a small valid PNG plus its base64 encoding.
func tinyPNG(t *testing.T) ([]byte, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes(), base64.StdEncoding.EncodeToString(buf.Bytes())
}
