// Package report delivers detected clients to the attendance server.
//
// Each report is a single POST of {"macAddress","deviceId","detectedAt"} to
// the configured server URL. A 200 means the server created (or found) a
// pending verification; a 404 means the MAC belongs to no student with an
// active class and is never retried. Everything else is retried with
// exponential backoff.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"smart-roll-call/internal/core"
	"smart-roll-call/internal/httpkit"
)

// ErrRejected marks a definitive refusal from the server.
var ErrRejected = errors.New("rejected by attendance server")

// ErrQueueFull is logged when a report is dropped because the queue is at
// capacity.
var ErrQueueFull = errors.New("report queue full")

const maxBackoff = time.Minute

// Request is the body POSTed to the attendance server.
type Request struct {
	MACAddress string `json:"macAddress"`
	DeviceID   string `json:"deviceId,omitempty"`
	DetectedAt string `json:"detectedAt,omitempty"`
}

// Response is the attendance server's reply.
type Response struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	VerificationID    string `json:"verificationId,omitempty"`
	StudentName       string `json:"studentName,omitempty"`
	StudentEnrollment string `json:"studentEnrollment,omitempty"`
	CourseName        string `json:"courseName,omitempty"`
	ExpiresIn         int    `json:"expiresIn,omitempty"`
}

// Config configures a Reporter.
type Config struct {
	ServerURL string
	DeviceID  string

	Timeout     time.Duration
	RateLimit   float64 // reports per second
	RateBurst   int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration

	// Client overrides the HTTP client; tests use it.
	Client *http.Client

	Bus    *core.EventBus
	State  *core.State
	Logger *slog.Logger
}

type job struct {
	mac        string
	detectedAt time.Time
}

// Reporter queues reports and delivers them from a single worker.
type Reporter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	queue   chan job
}

// New validates cfg and builds a Reporter. Start must be called to drain
// the queue.
func New(cfg Config) (*Reporter, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("server url %q: must be an absolute http(s) URL", cfg.ServerURL)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client := cfg.Client
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(cfg.Logger),
		)
	}

	return &Reporter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		queue:   make(chan job, cfg.QueueSize),
	}, nil
}

// Report enqueues mac for delivery. It never blocks; false means the queue
// was full and the report was dropped.
func (r *Reporter) Report(mac string, detectedAt time.Time) bool {
	select {
	case r.queue <- job{mac: mac, detectedAt: detectedAt}:
		return true
	default:
		r.cfg.Logger.Warn("dropping report", "mac", mac, "error", ErrQueueFull)
		return false
	}
}

// Pending returns the number of queued reports.
func (r *Reporter) Pending() int {
	return len(r.queue)
}

// Start drains the queue until ctx is cancelled. It blocks.
func (r *Reporter) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.deliver(ctx, j)
		}
	}
}

// deliver sends j, retrying transient failures with exponential backoff.
func (r *Reporter) deliver(ctx context.Context, j job) {
	delay := r.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		resp, err := r.Send(ctx, j.mac, j.detectedAt)
		switch {
		case err == nil:
			r.cfg.Logger.Info("attendance reported",
				"mac", j.mac,
				"verification_id", resp.VerificationID,
				"student", resp.StudentName,
				"attempts", attempt,
			)
			if r.cfg.State != nil {
				r.cfg.State.RecordDelivered()
			}
			r.publish(core.ReportDeliveredEvent, core.ReportPayload{
				MAC:            j.mac,
				VerificationID: resp.VerificationID,
				StudentName:    resp.StudentName,
				Attempts:       attempt,
			})
			return

		case errors.Is(err, ErrRejected):
			r.cfg.Logger.Info("attendance server rejected client", "mac", j.mac, "error", err)
			if r.cfg.State != nil {
				r.cfg.State.RecordRejected()
			}
			r.publish(core.ReportFailedEvent, core.ReportPayload{
				MAC:      j.mac,
				Attempts: attempt,
				Error:    err.Error(),
			})
			return
		}

		lastErr = err
		if ctx.Err() != nil {
			return
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		r.cfg.Logger.Debug("report failed, will retry",
			"mac", j.mac,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	r.cfg.Logger.Warn("giving up on report",
		"mac", j.mac,
		"attempts", r.cfg.MaxAttempts,
		"error", lastErr,
	)
	if r.cfg.State != nil {
		r.cfg.State.RecordFailed()
	}
	r.publish(core.ReportFailedEvent, core.ReportPayload{
		MAC:      j.mac,
		Attempts: r.cfg.MaxAttempts,
		Error:    lastErr.Error(),
	})
}

// Send makes a single delivery attempt. A 404 returns an error wrapping
// ErrRejected; other non-200 statuses and transport errors are returned as
// plain errors.
func (r *Reporter) Send(ctx context.Context, mac string, detectedAt time.Time) (*Response, error) {
	body := Request{MACAddress: mac, DeviceID: r.cfg.DeviceID}
	if !detectedAt.IsZero() {
		body.DetectedAt = detectedAt.Format(time.RFC3339)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServerURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post report: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		defer httpkit.DrainAndClose(resp.Body, 1024)
		var out Response
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &out, nil
	case http.StatusNotFound:
		msg := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("%w: %s", ErrRejected, serverMessage(msg))
	default:
		msg := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("attendance server returned %d: %s", resp.StatusCode, serverMessage(msg))
	}
}

// serverMessage pulls the error text out of a JSON error body, falling
// back to the raw body.
func serverMessage(body string) string {
	var r Response
	if err := json.Unmarshal([]byte(body), &r); err == nil {
		if r.Error != "" {
			return r.Error
		}
		if r.Message != "" {
			return r.Message
		}
	}
	return body
}

func (r *Reporter) publish(t core.EventType, payload core.ReportPayload) {
	if r.cfg.Bus == nil {
		return
	}
	r.cfg.Bus.Publish(core.Event{Type: t, Payload: payload})
}
