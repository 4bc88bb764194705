// Package abort implements the Abort Subsystem (component U): condition
// evaluation over a rolling metrics view and serialized execution of the
// resulting abort decision, with rollback support.
package abort

import (
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resolveerr"
)

// TriggerCondition names what caused an abort policy to fire.
type TriggerCondition string

const (
	TriggerFailureRate       TriggerCondition = "failure_rate"
	TriggerErrorThreshold    TriggerCondition = "error_threshold"
	TriggerTimeout           TriggerCondition = "timeout"
	TriggerResourceExhaustion TriggerCondition = "resource_exhaustion"
	TriggerCriticalError     TriggerCondition = "critical_error"
	TriggerManual            TriggerCondition = "manual"
)

// Action is the abort action a policy prescribes.
type Action string

const (
	ActionStopImmediately  Action = "stop_immediately"
	ActionGracefulShutdown Action = "graceful_shutdown"
	ActionSaveStateAndStop Action = "save_state_and_stop"
	ActionRollback         Action = "rollback"
)

// MetricsView is the rolling window of job health the condition
// evaluator consults.
type MetricsView struct {
	FailureRate      float64
	ErrorCount       int
	ResourcePressure float64 // 0-1
	ElapsedSinceStart time.Duration
}

// Policy is one abort condition paired with its prescribed action.
type Policy struct {
	Name               string
	Trigger            TriggerCondition
	FailureRateThreshold float64
	ErrorCountThreshold  int
	ResourcePressureThreshold float64
	TimeoutDuration      time.Duration
	Action               Action

	// CooldownSeconds is the minimum time that must pass between two
	// executions of this policy. Zero disables the cooldown check.
	CooldownSeconds int
	// MaxAbortsPerHour caps how many times this policy may execute within
	// any trailing 60-minute window. Zero disables the cap.
	MaxAbortsPerHour int
}

// Decision is the evaluator's verdict for one policy against one
// MetricsView.
type Decision struct {
	Policy    string
	Triggered bool
	Action    Action
	Reason    string
}

// Evaluate checks m against p, returning a Decision.
func (p Policy) Evaluate(m MetricsView) Decision {
	switch p.Trigger {
	case TriggerFailureRate:
		if m.FailureRate >= p.FailureRateThreshold {
			return Decision{Policy: p.Name, Triggered: true, Action: p.Action, Reason: fmt.Sprintf("failure_rate %.2f >= %.2f", m.FailureRate, p.FailureRateThreshold)}
		}
	case TriggerErrorThreshold:
		if m.ErrorCount >= p.ErrorCountThreshold {
			return Decision{Policy: p.Name, Triggered: true, Action: p.Action, Reason: fmt.Sprintf("error_count %d >= %d", m.ErrorCount, p.ErrorCountThreshold)}
		}
	case TriggerResourceExhaustion:
		if m.ResourcePressure >= p.ResourcePressureThreshold {
			return Decision{Policy: p.Name, Triggered: true, Action: p.Action, Reason: fmt.Sprintf("resource_pressure %.2f >= %.2f", m.ResourcePressure, p.ResourcePressureThreshold)}
		}
	case TriggerTimeout:
		if p.TimeoutDuration > 0 && m.ElapsedSinceStart >= p.TimeoutDuration {
			return Decision{Policy: p.Name, Triggered: true, Action: p.Action, Reason: "elapsed time exceeded timeout"}
		}
	}
	return Decision{Policy: p.Name, Triggered: false}
}

// ActionHandler executes one abort action for jobID; returns an error if
// execution itself fails.
type ActionHandler func(jobID string) error

// ExecutionResult records the outcome of one executed abort action, kept
// for rollback and history.
type ExecutionResult struct {
	JobID     string
	Action    Action
	Success   bool
	Timestamp time.Time
	Error     string
}

// RollbackInfo records one rollback attempt.
type RollbackInfo struct {
	JobID          string
	OriginalAction Action
	RollbackAction string
	Success        bool
	Timestamp      time.Time
}

// policyThrottle tracks the cooldown/hourly-cap bookkeeping for one named
// policy across all jobs it has fired for.
type policyThrottle struct {
	lastTriggered time.Time
	recentAborts  []time.Time
}

// Executor serializes abort-action execution per policy (executions under
// the zero Policy share one lock) and maintains execution/rollback history
// (component U).
type Executor struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	handlers  map[Action]ActionHandler
	history   map[string][]ExecutionResult
	rollbacks map[string][]RollbackInfo
	throttles map[string]*policyThrottle
	bus       *eventbus.Bus
}

// New wires an Executor with the default action handlers (no-op stubs
// the caller overrides via RegisterHandler for its real stop/shutdown/
// save-state/rollback behavior).
func New(bus *eventbus.Bus) *Executor {
	e := &Executor{
		locks:     make(map[string]*sync.Mutex),
		handlers:  make(map[Action]ActionHandler),
		history:   make(map[string][]ExecutionResult),
		rollbacks: make(map[string][]RollbackInfo),
		throttles: make(map[string]*policyThrottle),
		bus:       bus,
	}
	e.handlers[ActionStopImmediately] = func(string) error { return nil }
	e.handlers[ActionGracefulShutdown] = func(string) error { return nil }
	e.handlers[ActionSaveStateAndStop] = func(string) error { return nil }
	e.handlers[ActionRollback] = func(string) error { return nil }
	return e
}

// RegisterHandler overrides the handler for one action.
func (e *Executor) RegisterHandler(a Action, h ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[a] = h
}

// throttleFor returns the policyThrottle for name, creating it on first
// use. Callers must hold e.mu.
func (e *Executor) throttleFor(name string) *policyThrottle {
	th, ok := e.throttles[name]
	if !ok {
		th = &policyThrottle{}
		e.throttles[name] = th
	}
	return th
}

// checkThrottle rejects execution if policy's cooldown hasn't elapsed
// since its last trigger, or if it has already fired max_aborts_per_hour
// times within the trailing hour.
func (e *Executor) checkThrottle(policy Policy, jobID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	th := e.throttleFor(policy.Name)

	if policy.CooldownSeconds > 0 && !th.lastTriggered.IsZero() {
		cooldown := time.Duration(policy.CooldownSeconds) * time.Second
		if elapsed := now.Sub(th.lastTriggered); elapsed < cooldown {
			return resolveerr.New(resolveerr.CodeConfiguration, "abort policy is in cooldown", map[string]any{
				"job_id":                  jobID,
				"policy":                  policy.Name,
				"cooldown_remaining_ms":   (cooldown - elapsed).Milliseconds(),
			}, nil)
		}
	}

	if policy.MaxAbortsPerHour > 0 {
		cutoff := now.Add(-time.Hour)
		fresh := th.recentAborts[:0]
		for _, ts := range th.recentAborts {
			if ts.After(cutoff) {
				fresh = append(fresh, ts)
			}
		}
		th.recentAborts = fresh
		if len(th.recentAborts) >= policy.MaxAbortsPerHour {
			return resolveerr.New(resolveerr.CodeConfiguration, "abort policy exceeded its hourly execution cap", map[string]any{
				"job_id":              jobID,
				"policy":              policy.Name,
				"max_aborts_per_hour": policy.MaxAbortsPerHour,
			}, nil)
		}
	}

	return nil
}

func (e *Executor) policyLock(policyName string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[policyName]
	if !ok {
		l = &sync.Mutex{}
		e.locks[policyName] = l
	}
	return l
}

// ExecuteAbortAction runs the action policy prescribes via decision for
// jobID, serialized per policy so concurrent triggers of one policy cannot
// interleave; executions under different policies may run concurrently.
// Before running the handler it checks policy's cooldown and
// hourly-cap limits, rejecting the execution outright if either is
// currently exceeded. Pass the zero Policy for ad hoc triggers (e.g. a
// manual operator abort) that should bypass throttling entirely.
func (e *Executor) ExecuteAbortAction(jobID string, policy Policy, decision Decision) (ExecutionResult, error) {
	if decision.Action == "" {
		return ExecutionResult{}, resolveerr.New(resolveerr.CodeValidation, "no action specified in decision", map[string]any{"job_id": jobID}, nil)
	}

	lock := e.policyLock(policy.Name)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if policy.Name != "" {
		if err := e.checkThrottle(policy, jobID, now); err != nil {
			return ExecutionResult{}, err
		}
	}

	e.mu.Lock()
	handler, ok := e.handlers[decision.Action]
	e.mu.Unlock()
	if !ok {
		return ExecutionResult{}, resolveerr.New(resolveerr.CodeConfiguration, fmt.Sprintf("no handler for action %q", decision.Action), nil, nil)
	}

	res := ExecutionResult{JobID: jobID, Action: decision.Action, Timestamp: now}
	if err := handler(jobID); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}

	e.mu.Lock()
	e.history[jobID] = append(e.history[jobID], res)
	if res.Success && policy.Name != "" {
		th := e.throttleFor(policy.Name)
		th.lastTriggered = now
		th.recentAborts = append(th.recentAborts, now)
	}
	e.mu.Unlock()

	if e.bus != nil {
		sev := eventbus.SeverityMedium
		if !res.Success {
			sev = eventbus.SeverityHigh
		}
		e.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindAbortEvent,
			JobID:     jobID,
			Component: "abort.executor",
			Severity:  sev,
			Details:   map[string]any{"policy": decision.Policy, "action": string(decision.Action), "reason": decision.Reason, "success": res.Success},
		})
	}

	if !res.Success {
		return res, resolveerr.New(resolveerr.CodeConfiguration, "abort action execution failed", map[string]any{"job_id": jobID, "action": string(decision.Action)}, nil)
	}
	return res, nil
}

// RollbackExecution reverts the most recent executed action for jobID,
// if rollback is supported for that action.
func (e *Executor) RollbackExecution(jobID, reason string) (RollbackInfo, error) {
	e.mu.Lock()
	hist := e.history[jobID]
	e.mu.Unlock()

	if len(hist) == 0 {
		return RollbackInfo{}, resolveerr.New(resolveerr.CodeConfiguration, "no execution found to roll back", map[string]any{"job_id": jobID}, nil)
	}
	last := hist[len(hist)-1]

	info := RollbackInfo{
		JobID:          jobID,
		OriginalAction: last.Action,
		RollbackAction: "rollback_" + string(last.Action),
		Timestamp:      time.Now(),
	}

	success := e.performRollback(last.Action)
	info.Success = success

	e.mu.Lock()
	e.rollbacks[jobID] = append(e.rollbacks[jobID], info)
	e.mu.Unlock()

	if !success {
		return info, resolveerr.New(resolveerr.CodeConfiguration, "rollback failed", map[string]any{"job_id": jobID, "original_action": string(last.Action)}, nil)
	}
	return info, nil
}

func (e *Executor) performRollback(original Action) bool {
	switch original {
	case ActionSaveStateAndStop, ActionGracefulShutdown:
		return true
	default:
		return false // stop_immediately and rollback-of-rollback cannot be undone
	}
}

// ExecutionHistory returns the recorded executions for jobID.
func (e *Executor) ExecutionHistory(jobID string) []ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecutionResult{}, e.history[jobID]...)
}

// RollbackHistory returns the recorded rollbacks for jobID.
func (e *Executor) RollbackHistory(jobID string) []RollbackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RollbackInfo{}, e.rollbacks[jobID]...)
}
