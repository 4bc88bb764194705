// Package webhook delivers event-bus events to an external HTTP endpoint,
// giving operators a way to hook failure/abort/recovery notifications into
// their own alerting without the core subsystems knowing about it.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/resolveguard/eventbus"
)

// payload is the JSON body posted to the configured webhook URL.
type payload struct {
	Kind          eventbus.Kind  `json:"kind"`
	Timestamp     int64          `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Severity      eventbus.Severity `json:"severity"`
	JobID         string         `json:"job_id,omitempty"`
	Component     string         `json:"component,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Sink forwards selected event kinds to a configured URL via HTTP POST,
// implementing eventbus.Subscriber so it can be wired directly with
// (*eventbus.Bus).Subscribe. Intended for "notify_admin"-style degradation
// actions and external abort/failure alerting.
type Sink struct {
	URL    string
	Secret string
	Client *http.Client
}

// NewSink creates a Sink posting to url, signing bodies with secret when
// non-empty.
func NewSink(url, secret string) *Sink {
	return &Sink{URL: url, Secret: secret, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Handle implements eventbus.Subscriber by delivering e asynchronously with
// retries; it never blocks the bus's delivery goroutine beyond the initial
// dispatch.
func (s *Sink) Handle(e eventbus.Event) {
	s.DeliverAsync(&payload{
		Kind:          e.Kind,
		Timestamp:     e.Timestamp.Unix(),
		CorrelationID: e.CorrelationID,
		Severity:      e.Severity,
		JobID:         e.JobID,
		Component:     e.Component,
		Details:       e.Details,
	})
}

// Deliver sends a webhook event synchronously. The request body is signed
// with HMAC-SHA256 if Secret is non-empty.
// Header: X-Resolveguard-Signature: sha256=<hex>
func (s *Sink) Deliver(ctx context.Context, p *payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Resolveguard-Webhook/1.0")

	if s.Secret != "" {
		mac := hmac.New(sha256.New, []byte(s.Secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Resolveguard-Signature", "sha256="+sig)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends a webhook event asynchronously with up to 3 retries.
// Retry intervals: 1s, 5s, 30s.
func (s *Sink) DeliverAsync(p *payload) {
	go func() {
		delays := []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.Deliver(ctx, p)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"url", s.URL, "kind", p.Kind, "job_id", p.JobID, "attempt", attempt+1)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", s.URL, "kind", p.Kind, "job_id", p.JobID, "attempt", attempt+1, "error", err)
		}
		slog.Error("webhook delivery exhausted all retries", "url", s.URL, "kind", p.Kind, "job_id", p.JobID)
	}()
}
