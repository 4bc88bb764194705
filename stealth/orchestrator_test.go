package stealth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContextDriver is a minimal ContextDriver whose init-script
// installation can be forced to fail, to exercise the orchestrator's
// graceful-degradation branch.
type fakeContextDriver struct {
	addInitScriptErr error
	proxyURL         string
	ua               string
}

func (d *fakeContextDriver) AddInitScript(js string) error { return d.addInitScriptErr }
func (d *fakeContextDriver) SetUserAgent(ua string)        { d.ua = ua }
func (d *fakeContextDriver) SetProxy(proxyURL, user, pass string) error {
	d.proxyURL = proxyURL
	return nil
}

func testOrchestrator(cfg Config) *Orchestrator {
	cfg.Enabled = true
	normalizer := NewFingerprintNormalizer(1, false, ConsistencyStrict)
	return New(cfg, nil, normalizer, nil, nil)
}

func TestOrchestrator_Apply_GracefulDegradationContinuesPastSubsystemFailure(t *testing.T) {
	o := testOrchestrator(Config{AntiDetectionEnabled: true, GracefulDegradation: true})
	drv := &fakeContextDriver{addInitScriptErr: errors.New("cdp session closed")}

	err := o.Apply(context.Background(), "session-1", "match-1", drv)
	require.NoError(t, err, "a degraded subsystem must not fail Apply when graceful_degradation is enabled")
	assert.NotEmpty(t, drv.ua, "fingerprint application still runs before the failing subsystem")
}

func TestOrchestrator_Apply_AbortsWhenDegradationDisabled(t *testing.T) {
	o := testOrchestrator(Config{AntiDetectionEnabled: true, GracefulDegradation: false})
	drv := &fakeContextDriver{addInitScriptErr: errors.New("cdp session closed")}

	err := o.Apply(context.Background(), "session-1", "match-1", drv)
	assert.Error(t, err, "a subsystem failure must abort Apply when graceful_degradation is disabled")
}

func TestOrchestrator_Apply_SucceedsWhenNoSubsystemFails(t *testing.T) {
	o := testOrchestrator(Config{AntiDetectionEnabled: true, GracefulDegradation: false})
	drv := &fakeContextDriver{}

	err := o.Apply(context.Background(), "session-1", "match-1", drv)
	require.NoError(t, err)
}
