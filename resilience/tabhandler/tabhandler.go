// Package tabhandler implements the Tab Handler (component Q): concurrent
// per-tab processing with a bounded semaphore, retry-on-transient,
// snapshot-on-permanent-failure.
package tabhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/resolveguard/resilience/failure"
	"github.com/use-agent/resolveguard/snapshot"
)

// Status is the outcome of processing one tab.
type Status string

const (
	StatusSuccess Status = "success"
	StatusRetried Status = "retried"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Descriptor identifies one tab to process.
type Descriptor struct {
	TabID   string
	JobID   string
	Context map[string]any
}

// ProcessFunc is the user-supplied per-tab work function.
type ProcessFunc func(ctx context.Context, d Descriptor) error

// Result is the per-tab outcome after retries.
type Result struct {
	TabID      string
	Status     Status
	Attempts   int
	Err        error
	SnapshotID string
}

// Handler processes a list of tab descriptors under a concurrency
// semaphore, classifying failures and retrying transient ones with
// linear backoff (component Q).
type Handler struct {
	Concurrency  int
	MaxRetries   int
	BaseDelay    time.Duration
	FailureHandler *failure.Handler
	Snapshots    *snapshot.Store
}

// New wires a Handler with explicit collaborators; Concurrency defaults
// to 5 per the component's documented default.
func New(concurrency, maxRetries int, baseDelay time.Duration, fh *failure.Handler, snaps *snapshot.Store) *Handler {
	if concurrency <= 0 {
		concurrency = 5
	}
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Handler{Concurrency: concurrency, MaxRetries: maxRetries, BaseDelay: baseDelay, FailureHandler: fh, Snapshots: snaps}
}

// ProcessTabs runs process(tab_ctx) for every descriptor, bounded by the
// concurrency semaphore, and returns aggregate counts plus a per-tab
// status map.
func (h *Handler) ProcessTabs(ctx context.Context, tabs []Descriptor, process ProcessFunc) (results map[string]Result, succeeded, failed, skipped int) {
	results = make(map[string]Result, len(tabs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, h.Concurrency)

	for _, tab := range tabs {
		tab := tab
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := h.processSingleTab(ctx, tab, process)
			mu.Lock()
			results[tab.TabID] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, r := range results {
		switch r.Status {
		case StatusSuccess, StatusRetried:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return results, succeeded, failed, skipped
}

func (h *Handler) processSingleTab(ctx context.Context, tab Descriptor, process ProcessFunc) Result {
	var lastErr error
	for attempt := 1; attempt <= h.MaxRetries+1; attempt++ {
		err := process(ctx, tab)
		if err == nil {
			status := StatusSuccess
			if attempt > 1 {
				status = StatusRetried
			}
			return Result{TabID: tab.TabID, Status: status, Attempts: attempt}
		}
		lastErr = err

		_, _, action := failure.Classify(err.Error())
		transient := action == failure.ActionRetry
		if !transient || attempt > h.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return Result{TabID: tab.TabID, Status: StatusFailed, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(h.BaseDelay * time.Duration(attempt)):
		}
	}

	return h.handleTabFailure(ctx, tab, lastErr)
}

func (h *Handler) handleTabFailure(ctx context.Context, tab Descriptor, err error) Result {
	category, _, action := failure.Classify(fmt.Sprint(err))

	if action == failure.ActionSkip {
		return Result{TabID: tab.TabID, Status: StatusSkipped, Err: err}
	}

	var snapID string
	if h.Snapshots != nil {
		id := snapshot.BuildID(tab.TabID, time.Now())
		if sid, werr := h.Snapshots.Write(snapshot.DOMSnapshot{
			ID:           id,
			SelectorName: tab.TabID,
			SnapshotType: snapshot.TypeFailure,
			Metadata:     snapshot.Metadata{FailureReason: fmt.Sprint(err)},
		}); werr == nil {
			snapID = sid
		}
	}

	if h.FailureHandler != nil {
		h.FailureHandler.HandleFailure(ctx, fmt.Sprint(err), "tabhandler", tab.JobID, map[string]any{"tab_id": tab.TabID, "category": string(category)})
	}

	return Result{TabID: tab.TabID, Status: StatusFailed, Err: err, SnapshotID: snapID}
}

// ActiveStatus is the handler's health summary. Capacity is the configured
// concurrency; ActiveCount is not tracked and is always zero.
type ActiveStatus struct {
	ActiveCount int
	Capacity    int
}

// HealthCheck reports the handler's configured concurrency capacity; it
// does not count tabs currently in flight.
func (h *Handler) HealthCheck() ActiveStatus {
	return ActiveStatus{Capacity: h.Concurrency}
}
