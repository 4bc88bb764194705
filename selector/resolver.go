package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/use-agent/resolveguard/correlation"
	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resolveerr"
	"github.com/use-agent/resolveguard/snapshot"
)

// PageHandle is everything the resolver needs from a live browser context
// to build a Document. Satisfied by the driver package's page adapter.
type PageHandle interface {
	Content(ctx context.Context) (string, error)
	URL() string
	UserAgent() string
	TabStates() map[string]TabState
}

// ResolveContext carries the page handle, tab identifier, and correlation
// id for one resolve/resolve_batch call.
type ResolveContext struct {
	Page    PageHandle
	TabID   string
	JobID   string
	Env     Environment
}

// Resolver is the multi-strategy selector resolver (component N): the
// try-loop over strategies, the gate check, and failure snapshot capture.
type Resolver struct {
	Registry       *Registry
	Scorer         *Scorer
	Bus            *eventbus.Bus
	Snapshots      *snapshot.Store
	StrategyTimeout time.Duration
	BatchWorkerCap  int
}

// NewResolver wires the resolver's collaborators explicitly (no
// module-level singletons), per the dependency-injection re-architecture
// note.
func NewResolver(reg *Registry, scorer *Scorer, bus *eventbus.Bus, snaps *snapshot.Store, strategyTimeout time.Duration, batchWorkerCap int) *Resolver {
	if strategyTimeout <= 0 {
		strategyTimeout = 2 * time.Second
	}
	if batchWorkerCap <= 0 {
		batchWorkerCap = 32
	}
	return &Resolver{
		Registry:        reg,
		Scorer:          scorer,
		Bus:             bus,
		Snapshots:       snaps,
		StrategyTimeout: strategyTimeout,
		BatchWorkerCap:  batchWorkerCap,
	}
}

// Resolve implements the normative algorithm from §4.N.
func (r *Resolver) Resolve(ctx context.Context, name string, rc ResolveContext) (*Result, error) {
	corrID := correlation.FromContext(ctx)

	sel, err := r.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := Validate(sel); err != nil {
		return nil, err
	}

	r.Registry.recordUsage(name)

	result := &Result{
		SelectorName: name,
		Timestamp:    time.Now(),
		TabContext:   sel.TabContext,
		Metadata:     map[string]any{},
	}

	// Step 3: tab scoping gate precedes strategy attempts.
	var scopeExpr string
	if sel.TabContext != "" {
		states := rc.Page.TabStates()
		state, known := states[sel.TabContext]
		if !known || state == TabNotLoaded {
			result.Success = false
			result.FailureReason = "tab_context_not_loaded"
			r.publishFailed(result, corrID, rc.JobID)
			return result, nil
		}
		if state != TabActive {
			result.Success = false
			result.FailureReason = "tab_context_inactive"
			r.publishFailed(result, corrID, rc.JobID)
			return result, nil
		}
		scopeExpr = "" // no DOM scope restriction is applied: strategies
		// search the whole page content and Document.Scope is left unset.
		_ = scopeExpr
	}

	rawHTML, err := rc.Page.Content(ctx)
	if err != nil {
		return nil, resolveerr.New(resolveerr.CodeBrowser, "failed to read page content", map[string]any{"selector_name": name}, err)
	}
	doc, err := NewDocument(rawHTML)
	if err != nil {
		return nil, resolveerr.New(resolveerr.CodeStrategyExecution, "failed to parse page content", map[string]any{"selector_name": name}, err)
	}

	threshold := sel.ConfidenceThreshold

	type scored struct {
		strat   *Strategy
		outcome attemptOutcome
		score   float64
		elapsed int64
		vresults []ValidationResult
	}
	var best *scored

	for _, strat := range sel.Strategies {
		select {
		case <-ctx.Done():
			result.Success = false
			result.FailureReason = "cancelled"
			return result, nil
		default:
		}

		start := time.Now()
		outcome, timedOut := r.attemptWithDeadline(ctx, strat.Config, doc)
		elapsed := time.Since(start)
		elapsedMS := elapsed.Milliseconds()

		if timedOut {
			r.Registry.recordStrategyOutcome(name, strat, false, elapsed.Nanoseconds())
			continue
		}
		if outcome.Err != nil || !outcome.Found {
			r.Registry.recordStrategyOutcome(name, strat, false, elapsed.Nanoseconds())
			continue
		}

		vresults := EvaluateAll(sel.ValidationRules, outcome.Element)
		score := r.Scorer.Score(candidate{
			Element:           outcome.Element,
			ValidationResults: vresults,
			Strategy:          strat,
			ElapsedMS:         elapsedMS,
		})

		success := true
		r.Registry.recordStrategyOutcome(name, strat, success, elapsed.Nanoseconds())

		cur := &scored{strat: strat, outcome: outcome, score: score, elapsed: elapsedMS, vresults: vresults}
		if best == nil || cur.score > best.score {
			best = cur
		}
		if score >= threshold {
			best = cur
			break
		}
	}

	if best == nil {
		return r.fail(ctx, sel, result, rawHTML, rc, corrID, "All strategies failed")
	}
	if best.score < threshold {
		return r.fail(ctx, sel, result, rawHTML, rc, corrID, "All strategies failed")
	}

	result.Success = true
	result.StrategyUsed = best.strat.Config.Kind()
	result.Element = best.outcome.Element
	result.ConfidenceScore = best.score
	result.ResolutionTimeMS = best.elapsed
	result.ValidationResults = best.vresults

	r.Bus.Publish(eventbus.Event{
		Kind:          eventbus.KindSelectorResolved,
		CorrelationID: corrID,
		JobID:         rc.JobID,
		Component:     "selector.resolver",
		Severity:      eventbus.SeverityLow,
		Details: map[string]any{
			"selector_name": name,
			"strategy_used": result.StrategyUsed,
			"confidence":    result.ConfidenceScore,
		},
	})

	return result, nil
}

func (r *Resolver) fail(ctx context.Context, sel *SemanticSelector, result *Result, rawHTML string, rc ResolveContext, corrID, reason string) (*Result, error) {
	result.Success = false
	result.FailureReason = reason

	id := snapshot.BuildID(sel.Name, time.Now())
	meta := snapshot.Metadata{
		PageURL:       rc.Page.URL(),
		TabContext:    sel.TabContext,
		UserAgent:     rc.Page.UserAgent(),
		FailureReason: reason,
	}
	if r.Snapshots != nil {
		snapType, distance := r.Snapshots.ClassifyDrift(sel.Name, rawHTML)
		sid, err := r.Snapshots.Write(snapshot.DOMSnapshot{
			ID:           id,
			SelectorName: sel.Name,
			SnapshotType: snapType,
			DOMContent:   rawHTML,
			Metadata:     meta,
		})
		if err == nil {
			result.SnapshotID = sid
		}
		if snapType != snapshot.TypeFailure && distance >= 0 {
			r.Bus.Publish(eventbus.Event{
				Kind:          eventbus.KindDriftDetected,
				CorrelationID: corrID,
				JobID:         rc.JobID,
				Component:     "snapshot.store",
				Severity:      eventbus.SeverityMedium,
				Details: map[string]any{
					"selector_name": sel.Name,
					"snapshot_type": snapType,
					"distance":      distance,
				},
			})
		}
	}

	r.publishFailed(result, corrID, rc.JobID)
	return result, nil
}

func (r *Resolver) publishFailed(result *Result, corrID, jobID string) {
	r.Bus.Publish(eventbus.Event{
		Kind:          eventbus.KindSelectorFailed,
		CorrelationID: corrID,
		JobID:         jobID,
		Component:     "selector.resolver",
		Severity:      eventbus.SeverityMedium,
		Details: map[string]any{
			"selector_name":  result.SelectorName,
			"failure_reason": result.FailureReason,
			"snapshot_id":    result.SnapshotID,
		},
	})
	if r.Snapshots != nil {
		r.Bus.Publish(eventbus.Event{
			Kind:          eventbus.KindSnapshotCaptured,
			CorrelationID: corrID,
			JobID:         jobID,
			Component:     "snapshot.store",
			Details:       map[string]any{"snapshot_id": result.SnapshotID},
		})
	}
}

// attemptWithDeadline runs attempt() under the per-strategy timeout.
func (r *Resolver) attemptWithDeadline(ctx context.Context, cfg StrategyConfig, doc *Document) (attemptOutcome, bool) {
	if r.StrategyTimeout <= 0 {
		return attemptOutcome{Err: fmt.Errorf("per_strategy_timeout_ms=0: every strategy times out")}, true
	}

	deadline, cancel := context.WithTimeout(ctx, r.StrategyTimeout)
	defer cancel()

	resultCh := make(chan attemptOutcome, 1)
	go func() {
		resultCh <- attempt(cfg, doc)
	}()

	select {
	case out := <-resultCh:
		return out, false
	case <-deadline.Done():
		return attemptOutcome{}, true
	}
}

// ResolveBatch implements resolve_batch: parallel, bounded by
// r.BatchWorkerCap (or len(names) if smaller), with per-name panics/errors
// converted to success=false results rather than failing the whole batch.
func (r *Resolver) ResolveBatch(ctx context.Context, names []string, rc ResolveContext) ([]*Result, error) {
	if len(names) == 0 {
		return []*Result{}, nil
	}

	for _, n := range names {
		if _, err := r.Registry.Get(n); err != nil {
			return nil, err
		}
	}

	cap := r.BatchWorkerCap
	if cap > len(names) {
		cap = len(names)
	}

	results := make([]*Result, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap)

	for i, name := range names {
		i, name := i, name
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					mu.Lock()
					results[i] = &Result{SelectorName: name, Success: false, FailureReason: fmt.Sprintf("panic: %v", rec)}
					mu.Unlock()
				}
			}()

			select {
			case <-gctx.Done():
				results[i] = &Result{SelectorName: name, Success: false, FailureReason: "cancelled"}
				return nil
			default:
			}

			res, rerr := r.Resolve(gctx, name, rc)
			if rerr != nil {
				results[i] = &Result{SelectorName: name, Success: false, FailureReason: rerr.Error()}
				return nil
			}
			results[i] = res
			return nil
		})
	}

	_ = g.Wait() // per-name errors are already folded into results; batch never fails
	return results, nil
}

// FilterByConfidence returns only the results whose ConfidenceScore is >=
// min, supplementing the reference implementation's
// filter_results_by_confidence.
func FilterByConfidence(results []*Result, min float64) []*Result {
	out := make([]*Result, 0, len(results))
	for _, res := range results {
		if res.ConfidenceScore >= min {
			out = append(out, res)
		}
	}
	return out
}

// Statistics mirrors get_confidence_statistics(): aggregate stats over a
// slice of results for a single selector, exposed by the HTTP control
// plane's stats endpoint.
type Statistics struct {
	Count          int
	SuccessCount   int
	MeanConfidence float64
	MinConfidence  float64
	MaxConfidence  float64
}

// ComputeStatistics summarizes results.
func ComputeStatistics(results []*Result) Statistics {
	stats := Statistics{}
	if len(results) == 0 {
		return stats
	}
	stats.Count = len(results)
	stats.MinConfidence = 1
	var sum float64
	for _, res := range results {
		if res.Success {
			stats.SuccessCount++
		}
		sum += res.ConfidenceScore
		if res.ConfidenceScore < stats.MinConfidence {
			stats.MinConfidence = res.ConfidenceScore
		}
		if res.ConfidenceScore > stats.MaxConfidence {
			stats.MaxConfidence = res.ConfidenceScore
		}
	}
	stats.MeanConfidence = sum / float64(len(results))
	return stats
}
