// Package callback posts terminal job results to caller-supplied webhook URLs
// with bounded retries. Webhook endpoints live on caller infrastructure and
// fail routinely; the dispatcher retries with backoff and reports a terminal
// DeliveryError once the budget is spent.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"async-image-tools/internal/backoff"
	"async-image-tools/internal/telemetry"
)

// DeliveryError is returned once every delivery attempt has failed. It is the
// terminal sink of the error model: callers log it and move on, since there is
// nobody left to notify.
type DeliveryError struct {
	Attempts int
	Last     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("callback failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *DeliveryError) Unwrap() error { return e.Last }

// Options configures a Dispatcher.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    backoff.Policy

	// RewriteLocal redirects callbacks addressed to the dev orchestrator host
	// through a local tunnel. Off by default; local setups only.
	RewriteLocal bool
	TunnelNetloc string
}

// Dispatcher delivers JSON payloads to callback URLs.
type Dispatcher struct {
	client     *http.Client
	maxRetries int
	policy     backoff.Policy
	rewrite    bool
	tunnel     string
	log        zerolog.Logger
}

// New constructs a dispatcher with its own HTTP client bounded by the
// per-attempt timeout.
func New(opts Options, logger zerolog.Logger) *Dispatcher {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &Dispatcher{
		client:     &http.Client{Timeout: timeout},
		maxRetries: retries,
		policy:     opts.Backoff,
		rewrite:    opts.RewriteLocal,
		tunnel:     opts.TunnelNetloc,
		log:        logger,
	}
}

// Deliver posts payload as JSON to callbackURL, retrying failed attempts per
// the backoff policy. Any 2xx response counts as delivered; everything else
// (non-2xx status, network error, timeout) is a failed attempt. Returns a
// *DeliveryError once all attempts are exhausted.
func (d *Dispatcher) Deliver(ctx context.Context, jobID, callbackURL string, payload any) error {
	target := d.rewriteURL(callbackURL)

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Attempts: 0, Last: fmt.Errorf("marshal payload: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		telemetry.CallbackAttempts.Inc()
		status, err := d.post(ctx, target, body)
		if err == nil {
			d.log.Info().
				Str("job_id", jobID).
				Str("url", target).
				Int("attempt", attempt).
				Int("http_status", status).
				Msg("callback delivered")
			telemetry.CallbacksDelivered.Inc()
			return nil
		}
		lastErr = err

		evt := d.log.Warn().
			Str("job_id", jobID).
			Str("url", target).
			Int("attempt", attempt).
			Err(err)
		if status != 0 {
			evt = evt.Int("http_status", status)
		}

		if attempt < d.maxRetries {
			wait := d.policy.Delay(attempt)
			evt.Dur("retry_in", wait).Msg("callback attempt failed")
			select {
			case <-ctx.Done():
				telemetry.CallbacksFailed.Inc()
				return &DeliveryError{Attempts: attempt, Last: ctx.Err()}
			case <-time.After(wait):
			}
		} else {
			evt.Msg("callback attempt failed")
		}
	}

	telemetry.CallbacksFailed.Inc()
	return &DeliveryError{Attempts: d.maxRetries, Last: lastErr}
}

// post performs one attempt. The returned status is 0 when no response was
// received.
func (d *Dispatcher) post(ctx context.Context, target string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("callback returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// rewriteURL swaps the dev orchestrator netloc for the local tunnel when the
// rewrite toggle is on. Unparsable URLs pass through untouched and fail at
// request time instead.
func (d *Dispatcher) rewriteURL(callbackURL string) string {
	if !d.rewrite {
		return callbackURL
	}
	u, err := url.Parse(callbackURL)
	if err != nil {
		return callbackURL
	}
	if u.Hostname() == "wxo-server" && (u.Port() == "4321" || u.Port() == "") {
		u.Host = d.tunnel
		return u.String()
	}
	return callbackURL
}
