// Package failure implements the Failure Classifier + Handler (component
// P): pattern-based classification over error messages, per-category
// recovery strategies, and failure/recovery event publishing.
package failure

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/resolveguard/correlation"
	"github.com/use-agent/resolveguard/eventbus"
)

// Severity is the failure severity scale.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups failures for per-category recovery strategy lookup.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryTimeout       Category = "timeout"
	CategoryAuthentication Category = "authentication"
	CategoryPermission    Category = "permission"
	CategoryValidation    Category = "validation"
	CategorySystem        Category = "system"
	CategoryMemory        Category = "memory"
	CategoryDisk          Category = "disk"
	CategoryDatabase      Category = "database"
	CategoryBrowser       Category = "browser"
	CategoryApplication   Category = "application"
	CategoryExternal      Category = "external"
	CategoryUnknown       Category = "unknown"
)

// Action is the suggested or taken recovery action.
type Action string

const (
	ActionRetry   Action = "retry"
	ActionRestart Action = "restart"
	ActionSkip    Action = "skip"
	ActionAbort   Action = "abort"
	ActionManual  Action = "manual"
)

// Event captures detailed information about a failure, mirroring the
// reference FailureEvent dataclass's field set.
type Event struct {
	ID            string
	Timestamp     time.Time
	CorrelationID string
	Severity      Severity
	Category      Category
	Source        string
	Message       string
	Context       map[string]any
	RecoveryAction Action
	ResolutionTime time.Duration
	Resolved      bool
	JobID         string
	Component     string
}

// pattern is one row of the classification table: a compiled regex over
// the error message, the severity it implies, and a suggested action.
type pattern struct {
	re       *regexp.Regexp
	category Category
	severity Severity
	action   Action
}

// classificationTable is checked in order; the first matching pattern
// wins. Grounded on the reference classifier's per-category keyword
// tables, collapsed into one ordered list here since Go lacks Python's
// dict-of-lists-with-insertion-order idiom for this shape.
var classificationTable = []pattern{
	{regexp.MustCompile(`(?i)connection (refused|reset)|dns|unreachable|network`), CategoryNetwork, SeverityMedium, ActionRetry},
	{regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`), CategoryTimeout, SeverityMedium, ActionRetry},
	{regexp.MustCompile(`(?i)unauthorized|401|invalid credentials|authentication failed`), CategoryAuthentication, SeverityHigh, ActionManual},
	{regexp.MustCompile(`(?i)forbidden|403|permission denied`), CategoryPermission, SeverityHigh, ActionManual},
	{regexp.MustCompile(`(?i)validation|invalid (input|argument|schema)`), CategoryValidation, SeverityLow, ActionSkip},
	{regexp.MustCompile(`(?i)out of memory|oom|cannot allocate memory`), CategoryMemory, SeverityCritical, ActionRestart},
	{regexp.MustCompile(`(?i)no space left|disk full|enospc`), CategoryDisk, SeverityCritical, ActionAbort},
	{regexp.MustCompile(`(?i)database|sql|connection pool exhausted`), CategoryDatabase, SeverityHigh, ActionRetry},
	{regexp.MustCompile(`(?i)browser (crash|disconnected)|target closed|session not created`), CategoryBrowser, SeverityHigh, ActionRestart},
	{regexp.MustCompile(`(?i)panic|segmentation fault|nil pointer`), CategorySystem, SeverityCritical, ActionAbort},
}

// Classify matches msg against the ordered pattern table, returning
// Unknown/Medium/Manual when nothing matches.
func Classify(msg string) (Category, Severity, Action) {
	for _, p := range classificationTable {
		if p.re.MatchString(msg) {
			return p.category, p.severity, p.action
		}
	}
	return CategoryUnknown, SeverityMedium, ActionManual
}

// RecoveryFunc attempts to recover from a classified failure, returning
// whether recovery succeeded.
type RecoveryFunc func(ctx context.Context, evt Event) bool

// Statistics tracks aggregate handling counts for the stats endpoint.
type Statistics struct {
	TotalFailures     int
	ByCategory        map[Category]int
	BySeverity        map[Severity]int
	ResolvedFailures  int
	UnresolvedFailures int
}

// Handler centralizes failure detection, classification, recovery
// dispatch, and event publishing (component P).
type Handler struct {
	mu         sync.Mutex
	bus        *eventbus.Bus
	recoverers map[Category]RecoveryFunc
	stats      Statistics
}

// NewHandler wires a handler with the event bus and the default
// per-category recovery strategies: Network → backoff (3 doubling waits
// from 500ms), Browser → restart (preserve session), System+Critical →
// abort, Application → skip, External → backoff (5 doubling waits from
// 1s). A backoff strategy only waits out its delays and then reports the
// failure recovered; it does not re-run the failed operation.
func NewHandler(bus *eventbus.Bus) *Handler {
	h := &Handler{
		bus:        bus,
		recoverers: make(map[Category]RecoveryFunc),
		stats: Statistics{
			ByCategory: make(map[Category]int),
			BySeverity: make(map[Severity]int),
		},
	}
	h.registerDefaultHandlers()
	return h
}

func (h *Handler) registerDefaultHandlers() {
	h.recoverers[CategoryNetwork] = retryWithBackoff(3, 500*time.Millisecond)
	h.recoverers[CategoryBrowser] = func(ctx context.Context, evt Event) bool { return true } // restart is orchestrated by resilience/browserrecovery
	h.recoverers[CategorySystem] = func(ctx context.Context, evt Event) bool { return evt.Severity != SeverityCritical }
	h.recoverers[CategoryApplication] = func(ctx context.Context, evt Event) bool { return true } // skip: always "succeeds"
	h.recoverers[CategoryExternal] = retryWithBackoff(5, time.Second)
}

func retryWithBackoff(maxAttempts int, base time.Duration) RecoveryFunc {
	return func(ctx context.Context, evt Event) bool {
		delay := base
		for attempt := 0; attempt < maxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
			delay *= 2
		}
		return true
	}
}

// RegisterRecovery overrides or adds a per-category recovery strategy.
func (h *Handler) RegisterRecovery(cat Category, fn RecoveryFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoverers[cat] = fn
}

// HandleFailure classifies msg, runs the matching recovery strategy, and
// publishes a failure_event followed by a recovery_event on success.
func (h *Handler) HandleFailure(ctx context.Context, msg, source, jobID string, failureCtx map[string]any) Event {
	category, severity, action := Classify(msg)
	corrID := correlation.FromContext(ctx)

	evt := Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		CorrelationID: corrID,
		Severity:      severity,
		Category:      category,
		Source:        source,
		Message:       msg,
		Context:       failureCtx,
		RecoveryAction: action,
		JobID:         jobID,
		Component:     source,
	}

	h.updateStatistics(evt)
	h.bus.Publish(eventbus.Event{
		Kind:          eventbus.KindFailureEvent,
		CorrelationID: corrID,
		JobID:         jobID,
		Component:     source,
		Severity:      severityToBus(severity),
		Details: map[string]any{
			"failure_id": evt.ID, "category": string(category), "severity": string(severity), "message": msg,
		},
	})

	start := time.Now()
	h.mu.Lock()
	recover, ok := h.recoverers[category]
	h.mu.Unlock()

	if ok && recover != nil {
		if recover(ctx, evt) {
			evt.Resolved = true
			evt.ResolutionTime = time.Since(start)
			h.mu.Lock()
			h.stats.ResolvedFailures++
			h.mu.Unlock()
			h.bus.Publish(eventbus.Event{
				Kind:          eventbus.KindRecoveryEvent,
				CorrelationID: corrID,
				JobID:         jobID,
				Component:     source,
				Severity:      eventbus.SeverityLow,
				Details: map[string]any{
					"failure_id": evt.ID, "action_taken": string(action), "resolution_time_ms": evt.ResolutionTime.Milliseconds(),
				},
			})
			return evt
		}
	}

	h.mu.Lock()
	h.stats.UnresolvedFailures++
	h.mu.Unlock()
	return evt
}

func (h *Handler) updateStatistics(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.TotalFailures++
	h.stats.ByCategory[evt.Category]++
	h.stats.BySeverity[evt.Severity]++
}

// GetStatistics returns a copy of the handler's running statistics.
func (h *Handler) GetStatistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := Statistics{
		TotalFailures:      h.stats.TotalFailures,
		ResolvedFailures:   h.stats.ResolvedFailures,
		UnresolvedFailures: h.stats.UnresolvedFailures,
		ByCategory:         make(map[Category]int, len(h.stats.ByCategory)),
		BySeverity:         make(map[Severity]int, len(h.stats.BySeverity)),
	}
	for k, v := range h.stats.ByCategory {
		cp.ByCategory[k] = v
	}
	for k, v := range h.stats.BySeverity {
		cp.BySeverity[k] = v
	}
	return cp
}

func severityToBus(s Severity) eventbus.Severity {
	switch s {
	case SeverityLow:
		return eventbus.SeverityLow
	case SeverityMedium:
		return eventbus.SeverityMedium
	case SeverityHigh:
		return eventbus.SeverityHigh
	case SeverityCritical:
		return eventbus.SeverityCritical
	default:
		return eventbus.SeverityMedium
	}
}
