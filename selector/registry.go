package selector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/resolveguard/resolveerr"
)

// Registry holds the shared-read, exclusive-write mapping of semantic name
// to SemanticSelector, plus a secondary tab_context index.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*SemanticSelector
	byTab    map[string]map[string]struct{} // tab_context -> set of names
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*SemanticSelector),
		byTab:  make(map[string]map[string]struct{}),
	}
}

// Validate checks the shape invariants from the data model: name required,
// >=3 strategies, unique priorities, rule weights in [0,1], threshold in
// [0,1].
func Validate(s *SemanticSelector) error {
	if s.Name == "" {
		return resolveerr.ContextValidation(s.Name, "selector name is required")
	}
	if len(s.Strategies) < 3 {
		return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q requires >=3 strategies, got %d", s.Name, len(s.Strategies)))
	}
	seen := make(map[int]struct{}, len(s.Strategies))
	for _, strat := range s.Strategies {
		if _, dup := seen[strat.Priority]; dup {
			return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q has duplicate strategy priority %d", s.Name, strat.Priority))
		}
		seen[strat.Priority] = struct{}{}
		if strat.Config == nil {
			return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q has a strategy with no config", s.Name))
		}
	}
	for _, rule := range s.ValidationRules {
		if rule.Weight() < 0 || rule.Weight() > 1 {
			return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q has a validation rule weight %.2f outside [0,1]", s.Name, rule.Weight()))
		}
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q has threshold %.2f outside [0,1]", s.Name, s.ConfidenceThreshold))
	}
	return nil
}

// Register adds a new selector. Rejects one that fails shape validation,
// or whose name is already registered.
func (r *Registry) Register(s *SemanticSelector) error {
	if err := Validate(s); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name]; exists {
		return resolveerr.ContextValidation(s.Name, fmt.Sprintf("selector %q is already registered", s.Name))
	}

	now := time.Now()
	s.RegisteredAt = now
	s.LastUpdated = now
	sort.Slice(s.Strategies, func(i, j int) bool { return s.Strategies[i].Priority < s.Strategies[j].Priority })

	r.byName[s.Name] = s
	if s.TabContext != "" {
		if r.byTab[s.TabContext] == nil {
			r.byTab[s.TabContext] = make(map[string]struct{})
		}
		r.byTab[s.TabContext][s.Name] = struct{}{}
	}
	return nil
}

// Unregister removes a selector. No-op if not present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	if s.TabContext != "" {
		delete(r.byTab[s.TabContext], name)
	}
}

// Get returns a copy-safe pointer to the registered selector, or a
// SelectorNotFound error. Callers must not mutate fields of the returned
// selector directly — use Update.
func (r *Registry) Get(name string) (*SemanticSelector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, resolveerr.SelectorNotFound(name)
	}
	return s, nil
}

// List returns all registered selectors, optionally filtered to those
// scoped to tabContext (empty string means no filter).
func (r *Registry) List(tabContext string) []*SemanticSelector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tabContext == "" {
		out := make([]*SemanticSelector, 0, len(r.byName))
		for _, s := range r.byName {
			out = append(out, s)
		}
		return out
	}

	names := r.byTab[tabContext]
	out := make([]*SemanticSelector, 0, len(names))
	for name := range names {
		out = append(out, r.byName[name])
	}
	return out
}

// Update re-validates updated, then swaps it in under the registry's lock
// so that concurrent readers never observe a half-applied change.
func (r *Registry) Update(updated *SemanticSelector) error {
	if err := Validate(updated); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byName[updated.Name]
	if !ok {
		return resolveerr.SelectorNotFound(updated.Name)
	}

	updated.RegisteredAt = existing.RegisteredAt
	updated.UsageCount = existing.UsageCount
	updated.LastUsed = existing.LastUsed
	updated.LastUpdated = time.Now()
	sort.Slice(updated.Strategies, func(i, j int) bool { return updated.Strategies[i].Priority < updated.Strategies[j].Priority })

	if existing.TabContext != updated.TabContext {
		if existing.TabContext != "" {
			delete(r.byTab[existing.TabContext], existing.Name)
		}
		if updated.TabContext != "" {
			if r.byTab[updated.TabContext] == nil {
				r.byTab[updated.TabContext] = make(map[string]struct{})
			}
			r.byTab[updated.TabContext][updated.Name] = struct{}{}
		}
	}

	r.byName[updated.Name] = updated
	return nil
}

// recordUsage updates usage bookkeeping after a resolve attempt.
func (r *Registry) recordUsage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byName[name]; ok {
		s.UsageCount++
		s.LastUsed = time.Now()
	}
}

// recordStrategyOutcome updates a strategy's rolling counters after an
// attempt, and checks whether its rolling success rate now warrants a
// promotion/demotion relative to its neighbors (a thin slice of the
// reference implementation's drift/promotion bookkeeping — not full
// evolution/drift detection, which stays out of scope).
//
// Returns whether a promotion or demotion occurred. Resolve discards the
// result, so no strategy.promoted / strategy.demoted event is published.
func (r *Registry) recordStrategyOutcome(selectorName string, strat *Strategy, success bool, elapsedNS int64) (promoted, demoted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	strat.Attempts++
	strat.TotalTimeNS += elapsedNS
	if success {
		strat.Successes++
	}

	// Only re-evaluate ordering after a meaningful sample size.
	const minSampleSize = 30
	if strat.Attempts < minSampleSize {
		return false, false
	}

	s, ok := r.byName[selectorName]
	if !ok {
		return false, false
	}

	rate := strat.SuccessRate()
	for _, other := range s.Strategies {
		if other == strat || other.Attempts < minSampleSize {
			continue
		}
		otherRate := other.SuccessRate()
		if rate > otherRate && strat.Priority > other.Priority {
			strat.Priority, other.Priority = other.Priority, strat.Priority
			return true, false
		}
		if rate < otherRate && strat.Priority < other.Priority {
			strat.Priority, other.Priority = other.Priority, strat.Priority
			return false, true
		}
	}
	return false, false
}
