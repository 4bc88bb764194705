// Package degradation implements the Graceful Degradation Coordinator
// (component S): per-job degradation level tracking driven by strategy
// rules over failure category and count.
package degradation

import (
	"strings"
	"sync"
	"time"

	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resilience/failure"
)

// Level is a job's current degradation level.
type Level string

const (
	LevelNone      Level = "none"
	LevelMinimal   Level = "minimal"
	LevelReduced   Level = "reduced"
	LevelLimited   Level = "limited"
	LevelEmergency Level = "emergency"
)

var levelOrder = map[Level]int{
	LevelNone: 0, LevelMinimal: 1, LevelReduced: 2, LevelLimited: 3, LevelEmergency: 4,
}

// Action is a symbolic degradation action the coordinator records as
// having been taken; concrete effects (actually reducing concurrency,
// clearing caches, etc.) are applied by the caller that owns those
// resources, keyed off Strategy.Actions.
type Action string

const (
	ActionReduceConcurrentTabs Action = "reduce_concurrent_tabs"
	ActionClearCaches          Action = "clear_caches"
	ActionPauseProcessing      Action = "pause_processing"
	ActionSaveState            Action = "save_state"
	ActionNotifyAdmin          Action = "notify_admin"
)

// Strategy maps a trigger condition to a degradation level and the
// actions/recovery predicate associated with it.
type Strategy struct {
	Name               string
	Level              Level
	CategoryKeywords   []string // matches if failure category name contains any of these
	FailureCountAtLeast int     // 0 means "not count-based"
	Actions            []Action
	RecoveryPredicate  func(jobCtx *JobContext) bool
	MaxDuration        time.Duration
}

// JobContext tracks one job's degradation bookkeeping.
type JobContext struct {
	JobID          string
	Level          Level
	FailureCount   int
	ActiveStrategies []string
	EnteredAt      time.Time
}

// defaultStrategies mirrors the component's documented defaults:
// network→Minimal, browser→Reduced, resource→Limited, failure_count≥10
// →Emergency.
func defaultStrategies() []Strategy {
	return []Strategy{
		{Name: "network_degradation", Level: LevelMinimal, CategoryKeywords: []string{"network", "timeout"}, Actions: []Action{ActionReduceConcurrentTabs}},
		{Name: "browser_degradation", Level: LevelReduced, CategoryKeywords: []string{"browser"}, Actions: []Action{ActionReduceConcurrentTabs, ActionClearCaches}},
		{Name: "resource_degradation", Level: LevelLimited, CategoryKeywords: []string{"memory", "disk", "system"}, Actions: []Action{ActionPauseProcessing, ActionClearCaches}},
		{Name: "critical_failure_rate", Level: LevelEmergency, FailureCountAtLeast: 10, Actions: []Action{ActionSaveState, ActionNotifyAdmin, ActionPauseProcessing}},
	}
}

// Coordinator tracks per-job degradation level and drives strategy
// matching (component S).
type Coordinator struct {
	mu         sync.Mutex
	strategies []Strategy
	jobs       map[string]*JobContext
	bus        *eventbus.Bus
}

// New wires a Coordinator with the default strategy set; callers may
// append additional strategies via AddStrategy.
func New(bus *eventbus.Bus) *Coordinator {
	return &Coordinator{strategies: defaultStrategies(), jobs: make(map[string]*JobContext), bus: bus}
}

// AddStrategy registers an additional degradation strategy, checked
// alongside the defaults.
func (c *Coordinator) AddStrategy(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies = append(c.strategies, s)
}

// HandleFailureWithDegradation records a failure against jobID and
// applies the highest-level matching strategy if it exceeds the job's
// current level.
func (c *Coordinator) HandleFailureWithDegradation(jobID string, category failure.Category) *JobContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	jc, ok := c.jobs[jobID]
	if !ok {
		jc = &JobContext{JobID: jobID, Level: LevelNone, EnteredAt: time.Now()}
		c.jobs[jobID] = jc
	}
	jc.FailureCount++

	var best *Strategy
	for i := range c.strategies {
		s := &c.strategies[i]
		matched := false
		if s.FailureCountAtLeast > 0 && jc.FailureCount >= s.FailureCountAtLeast {
			matched = true
		}
		for _, kw := range s.CategoryKeywords {
			if strings.Contains(string(category), kw) {
				matched = true
				break
			}
		}
		if matched && (best == nil || levelOrder[s.Level] > levelOrder[best.Level]) {
			best = s
		}
	}

	if best != nil && levelOrder[best.Level] > levelOrder[jc.Level] {
		jc.Level = best.Level
		jc.ActiveStrategies = append(jc.ActiveStrategies, best.Name)
		c.publish(jobID, best)
	}

	return jc
}

func (c *Coordinator) publish(jobID string, s *Strategy) {
	if c.bus == nil {
		return
	}
	actions := make([]string, len(s.Actions))
	for i, a := range s.Actions {
		actions[i] = string(a)
	}
	c.bus.Publish(eventbus.Event{
		Kind:      eventbus.KindResourceEvent,
		JobID:     jobID,
		Component: "degradation.coordinator",
		Severity:  eventbus.SeverityMedium,
		Details:   map[string]any{"strategy": s.Name, "level": string(s.Level), "actions": actions},
	})
}

// AttemptRecovery succeeds iff all of the job's active strategies'
// recovery predicates hold (a strategy with no predicate is treated as
// always-recoverable).
func (c *Coordinator) AttemptRecovery(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	jc, ok := c.jobs[jobID]
	if !ok {
		return true
	}

	byName := make(map[string]*Strategy, len(c.strategies))
	for i := range c.strategies {
		byName[c.strategies[i].Name] = &c.strategies[i]
	}

	for _, name := range jc.ActiveStrategies {
		s, ok := byName[name]
		if !ok || s.RecoveryPredicate == nil {
			continue
		}
		if !s.RecoveryPredicate(jc) {
			return false
		}
	}

	jc.Level = LevelNone
	jc.ActiveStrategies = nil
	jc.FailureCount = 0
	return true
}

// JobLevel returns a job's current degradation level, LevelNone if
// untracked.
func (c *Coordinator) JobLevel(jobID string) Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	if jc, ok := c.jobs[jobID]; ok {
		return jc.Level
	}
	return LevelNone
}
