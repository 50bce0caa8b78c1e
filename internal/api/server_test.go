package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"async-image-tools/internal/backoff"
	"async-image-tools/internal/callback"
	"async-image-tools/internal/config"
	"async-image-tools/internal/ratelimit"
	"async-image-tools/internal/transform"
	"async-image-tools/internal/worker"
)

type echoEditor struct{}

func (echoEditor) Edit(_ context.Context, img []byte, _ string) (transform.Result, error) {
	return transform.Result{Bytes: img, MIME: "image/png", Ext: "png"}, nil
}

type callbackSink struct {
	srv *httptest.Server
	mu  sync.Mutex
	got []map[string]any
}

func newCallbackSink() *callbackSink {
	s := &callbackSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.got = append(s.got, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return s
}

func testServer(t *testing.T, cfg config.Config, limiter *ratelimit.TokenBucket) (*Server, *worker.Runner) {
	t.Helper()
	d := callback.New(callback.Options{
		Timeout:    time.Second,
		MaxRetries: 1,
		Backoff:    backoff.New([]time.Duration{time.Millisecond}),
	}, zerolog.Nop())
	runner := worker.New(context.Background(), cfg, nil, echoEditor{}, d, worker.NewGate(cfg.MaxConcurrentJobs), zerolog.Nop())
	return New(cfg, runner, limiter, zerolog.Nop()), runner
}

func baseConfig() config.Config {
	return config.Config{
		Env:                  "test",
		MaxConcurrentJobs:    2,
		MaxImageBase64Chars:  14_000_000,
		BatchErrorsReported:  20,
		EnableFallbackSingle: true,
		OpenAIAPIKey:         "sk-test",
		COSEndpoint:          "https://cos.example.com",
		COSRegion:            "eu-geo",
		COSAccessKeyID:       "ak",
		COSSecretAccessKey:   "sk",
		COSOutputBucket:      "wxo-images",
		COSOutputPrefix:      "results/batch",
		COSPresignExpires:    900 * time.Second,
	}
}

func postJSON(t *testing.T, handler http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitSingleB64Accepted(t *testing.T) {
	sink := newCallbackSink()
	defer sink.srv.Close()

	srv, runner := testServer(t, baseConfig(), nil)
	rec := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"add a hat","filename":"cat.png","image_base64":"aGVsbG8="}`,
		map[string]string{"callbackUrl": sink.srv.URL})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"] != true || resp["job_id"] == "" {
		t.Fatalf("unexpected response %v", resp)
	}

	runner.Wait()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", len(sink.got))
	}
	if sink.got[0]["status"] != "completed" || sink.got[0]["job_id"] != resp["job_id"] {
		t.Fatalf("unexpected callback %v", sink.got[0])
	}
}

func TestSubmitRejectsMissingCallbackHeader(t *testing.T) {
	srv, _ := testServer(t, baseConfig(), nil)
	rec := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"p","image_base64":"aGVsbG8="}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitRejectsMissingPrompt(t *testing.T) {
	srv, _ := testServer(t, baseConfig(), nil)
	rec := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"image_base64":"aGVsbG8="}`,
		map[string]string{"callbackUrl": "http://example.com/cb"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWorkshopTokenGuard(t *testing.T) {
	cfg := baseConfig()
	cfg.WorkshopToken = "sekret"
	srv, _ := testServer(t, cfg, nil)

	rec := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"p","image_base64":"aGVsbG8="}`,
		map[string]string{"callbackUrl": "http://example.com/cb"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/cos/config", nil)
	req.Header.Set("x-workshop-token", "wrong")
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec2.Code)
	}
}

func TestBatchRejectsMissingInputBucket(t *testing.T) {
	cfg := baseConfig() // no COSInputBucket
	srv, _ := testServer(t, cfg, nil)
	rec := postJSON(t, srv.Router(), "/batch-process-images",
		`{"prompt":"restyle"}`,
		map[string]string{"callbackUrl": "http://example.com/cb"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "COS_INPUT_BUCKET") {
		t.Fatalf("detail should name the missing var: %s", rec.Body.String())
	}
}

func TestSubmitRejectsMissingOpenAIKey(t *testing.T) {
	cfg := baseConfig()
	cfg.OpenAIAPIKey = ""
	srv, _ := testServer(t, cfg, nil)
	rec := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"p","image_base64":"aGVsbG8="}`,
		map[string]string{"callbackUrl": "http://example.com/cb"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, baseConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestRateLimitedSubmission(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewTokenBucket(client, 1, 0, time.Minute)

	sink := newCallbackSink()
	defer sink.srv.Close()

	srv, runner := testServer(t, baseConfig(), limiter)
	headers := map[string]string{"callbackUrl": sink.srv.URL}

	first := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"p","image_base64":"aGVsbG8="}`, headers)
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.Code)
	}
	second := postJSON(t, srv.Router(), "/process-image-async-b64",
		`{"prompt":"p","image_base64":"aGVsbG8="}`, headers)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	runner.Wait()
}
