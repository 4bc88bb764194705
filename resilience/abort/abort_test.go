package abort

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Evaluate_FailureRateTrigger(t *testing.T) {
	p := Policy{Name: "high-failure", Trigger: TriggerFailureRate, FailureRateThreshold: 0.5, Action: ActionStopImmediately}

	d := p.Evaluate(MetricsView{FailureRate: 0.6})
	assert.True(t, d.Triggered)
	assert.Equal(t, ActionStopImmediately, d.Action)

	d = p.Evaluate(MetricsView{FailureRate: 0.3})
	assert.False(t, d.Triggered)
}

func TestPolicy_Evaluate_ErrorThresholdTrigger(t *testing.T) {
	p := Policy{Name: "too-many-errors", Trigger: TriggerErrorThreshold, ErrorCountThreshold: 5, Action: ActionSaveStateAndStop}
	assert.True(t, p.Evaluate(MetricsView{ErrorCount: 5}).Triggered)
	assert.False(t, p.Evaluate(MetricsView{ErrorCount: 4}).Triggered)
}

func TestPolicy_Evaluate_ResourceExhaustionTrigger(t *testing.T) {
	p := Policy{Name: "resource-pressure", Trigger: TriggerResourceExhaustion, ResourcePressureThreshold: 0.9, Action: ActionGracefulShutdown}
	assert.True(t, p.Evaluate(MetricsView{ResourcePressure: 0.95}).Triggered)
	assert.False(t, p.Evaluate(MetricsView{ResourcePressure: 0.5}).Triggered)
}

func TestPolicy_Evaluate_TimeoutTrigger(t *testing.T) {
	p := Policy{Name: "job-timeout", Trigger: TriggerTimeout, TimeoutDuration: time.Minute, Action: ActionStopImmediately}
	assert.True(t, p.Evaluate(MetricsView{ElapsedSinceStart: 2 * time.Minute}).Triggered)
	assert.False(t, p.Evaluate(MetricsView{ElapsedSinceStart: 30 * time.Second}).Triggered)
}

func TestExecutor_ExecuteAbortAction_DefaultHandlersSucceed(t *testing.T) {
	e := New(nil)
	res, err := e.ExecuteAbortAction("job-1", Policy{}, Decision{Policy: "manual", Action: ActionGracefulShutdown, Triggered: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "job-1", res.JobID)

	hist := e.ExecutionHistory("job-1")
	require.Len(t, hist, 1)
	assert.Equal(t, ActionGracefulShutdown, hist[0].Action)
}

func TestExecutor_ExecuteAbortAction_NoActionIsError(t *testing.T) {
	e := New(nil)
	_, err := e.ExecuteAbortAction("job-1", Policy{}, Decision{Policy: "manual"})
	assert.Error(t, err)
}

func TestExecutor_ExecuteAbortAction_FailingHandlerReturnsErrorButRecordsHistory(t *testing.T) {
	e := New(nil)
	e.RegisterHandler(ActionStopImmediately, func(jobID string) error { return errors.New("boom") })

	res, err := e.ExecuteAbortAction("job-2", Policy{}, Decision{Policy: "p", Action: ActionStopImmediately, Triggered: true})
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	hist := e.ExecutionHistory("job-2")
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Success)
}

func TestExecutor_RollbackExecution_SupportedAndUnsupportedActions(t *testing.T) {
	e := New(nil)
	_, err := e.ExecuteAbortAction("job-3", Policy{}, Decision{Policy: "p", Action: ActionSaveStateAndStop, Triggered: true})
	require.NoError(t, err)

	info, err := e.RollbackExecution("job-3", "operator request")
	require.NoError(t, err)
	assert.True(t, info.Success)
	assert.Equal(t, ActionSaveStateAndStop, info.OriginalAction)

	e2 := New(nil)
	_, err = e2.ExecuteAbortAction("job-4", Policy{}, Decision{Policy: "p", Action: ActionStopImmediately, Triggered: true})
	require.NoError(t, err)
	_, err = e2.RollbackExecution("job-4", "operator request")
	assert.Error(t, err)
}

func TestExecutor_RollbackExecution_NoHistoryIsError(t *testing.T) {
	e := New(nil)
	_, err := e.RollbackExecution("never-ran", "reason")
	assert.Error(t, err)
}

func TestExecutor_ExecuteAbortAction_RespectsCooldown(t *testing.T) {
	e := New(nil)
	policy := Policy{Name: "flaky-job-policy", Action: ActionStopImmediately, CooldownSeconds: 600}
	decision := Decision{Policy: policy.Name, Action: policy.Action, Triggered: true}

	_, err := e.ExecuteAbortAction("job-5", policy, decision)
	require.NoError(t, err)

	// A second run-up on the same job within the cooldown window must not
	// trigger the action again.
	_, err = e.ExecuteAbortAction("job-5", policy, decision)
	assert.Error(t, err)
	assert.Len(t, e.ExecutionHistory("job-5"), 1)

	// The cooldown is keyed by policy, not by job: a different job under
	// the same policy is blocked too.
	_, err = e.ExecuteAbortAction("job-6", policy, decision)
	assert.Error(t, err)
}

func TestExecutor_ExecuteAbortAction_RespectsHourlyCap(t *testing.T) {
	e := New(nil)
	policy := Policy{Name: "capped-policy", Action: ActionStopImmediately, MaxAbortsPerHour: 2}
	decision := Decision{Policy: policy.Name, Action: policy.Action, Triggered: true}

	_, err := e.ExecuteAbortAction("job-a", policy, decision)
	require.NoError(t, err)
	_, err = e.ExecuteAbortAction("job-b", policy, decision)
	require.NoError(t, err)

	_, err = e.ExecuteAbortAction("job-c", policy, decision)
	assert.Error(t, err)
}

func TestExecutor_ExecuteAbortAction_ZeroValuePolicyBypassesThrottling(t *testing.T) {
	e := New(nil)
	decision := Decision{Policy: "manual", Action: ActionGracefulShutdown, Triggered: true}

	_, err := e.ExecuteAbortAction("job-7", Policy{}, decision)
	require.NoError(t, err)
	_, err = e.ExecuteAbortAction("job-7", Policy{}, decision)
	assert.NoError(t, err, "manual aborts with no policy name are not throttled")
}
