package stealth

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/resolveguard/correlation"
	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resolveerr"
)

// ContextDriver is everything the orchestrator needs from a browser
// context to apply the full stealth pipeline.
type ContextDriver interface {
	ScriptInstaller
	SetUserAgent(ua string)
	SetProxy(proxyURL, user, pass string) error
}

// Config controls which subsystems the orchestrator applies and how.
type Config struct {
	Enabled             bool
	ProxyEnabled        bool
	AntiDetectionEnabled bool
	ConsentEnabled      bool
	BehaviorEnabled     bool
	GracefulDegradation bool
	MaskOptions         MaskOptions
	FingerprintLevel    ConsistencyLevel
	FingerprintCache    bool
	ProxyStrategy       RotationStrategy
	ProxyCooldown       time.Duration
	ProxyPersistDir     string
	BehaviorIntensity   Intensity
	ConsentVerifyDismiss bool
}

// Orchestrator applies fingerprint → proxy binding → anti-detection
// script install, in that order, per browser context (component I).
// Consent handling is not armed by Apply; callers run it per navigation
// through DetectAndAcceptConsent. The behavior emulator is exposed
// separately for callers to use on each navigation/click/scroll.
type Orchestrator struct {
	cfg         Config
	bus         *eventbus.Bus
	fingerprint *FingerprintNormalizer
	proxy       *ProxyManager
	masker      *Masker
	consent     *Handler
	Behavior    *Emulator
	logger      *slog.Logger
}

// New wires an orchestrator from its already-constructed subsystems
// (explicit dependency injection — no subsystem is looked up from a
// global registry).
func New(cfg Config, bus *eventbus.Bus, fingerprint *FingerprintNormalizer, proxy *ProxyManager, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		bus:         bus,
		fingerprint: fingerprint,
		proxy:       proxy,
		masker:      NewMasker(cfg.MaskOptions),
		consent:     NewHandler(cfg.ConsentVerifyDismiss),
		Behavior:    NewEmulator(cfg.BehaviorIntensity, time.Now().UnixNano()),
		logger:      logger,
	}
}

// Apply runs the per-context pipeline. The fingerprint is always applied
// when cfg.Enabled is true; proxy binding and anti-detection can each be
// disabled via cfg. When GracefulDegradation is true, a
// subsystem failure logs a warning and the remaining subsystems still
// apply. When GracefulDegradation is false, the first subsystem failure
// aborts the pipeline and Apply returns a non-nil error.
func (o *Orchestrator) Apply(ctx context.Context, sessionID, matchID string, drv ContextDriver) error {
	if !o.cfg.Enabled {
		return nil
	}
	corrID := correlation.FromContext(ctx)

	fp := o.fingerprint.Generate(sessionID)
	drv.SetUserAgent(fp.UserAgent)
	o.publish(eventbus.KindStealthApplied, corrID, matchID, EventFingerprintInit, SubsystemFingerprint, true, map[string]any{
		"browser": string(fp.Browser), "platform": string(fp.Platform),
	})

	if o.cfg.ProxyEnabled && o.proxy != nil {
		sess, err := o.proxy.GetNextSession(matchID, nil)
		if err != nil {
			if derr := o.degrade("proxy binding failed", err); derr != nil {
				return derr
			}
		} else if err := drv.SetProxy(sess.ProxyURL, "", ""); err != nil {
			if derr := o.degrade("proxy apply failed", err); derr != nil {
				return derr
			}
		} else {
			o.publish(eventbus.KindStealthApplied, corrID, matchID, EventProxyCreated, SubsystemProxyManager, true, map[string]any{"session_id": sess.SessionID})
		}
	}

	if o.cfg.AntiDetectionEnabled {
		if err := o.masker.Install(drv); err != nil {
			o.publish(eventbus.KindStealthApplied, corrID, matchID, EventMaskFailed, SubsystemAntiDetection, false, map[string]any{"error": err.Error()})
			if derr := o.degrade("anti-detection install failed", err); derr != nil {
				return derr
			}
		} else {
			o.publish(eventbus.KindStealthApplied, corrID, matchID, EventMaskApplied, SubsystemAntiDetection, true, nil)
		}
	}

	// Consent handling is not armed here; detection/acceptance happens
	// per-navigation via DetectAndAcceptConsent, invoked by the caller with
	// a live ConsentDriver.
	return nil
}

// DetectAndAcceptConsent is a thin pass-through so callers can invoke
// consent handling through the orchestrator without holding a separate
// Handler reference.
func (o *Orchestrator) DetectAndAcceptConsent(ctx context.Context, drv ConsentDriver, timeout time.Duration) (bool, string, error) {
	if !o.cfg.ConsentEnabled {
		return false, "", nil
	}
	return o.consent.DetectAndAccept(ctx, drv, timeout)
}

// RegisterConsentPattern exposes pattern registration on the
// orchestrator's consent handler.
func (o *Orchestrator) RegisterConsentPattern(p Pattern) {
	o.consent.RegisterPattern(p)
}

// degrade logs a subsystem failure. When GracefulDegradation is enabled it
// returns nil so Apply continues with the remaining subsystems; otherwise
// it returns an error that Apply propagates, aborting the pipeline.
func (o *Orchestrator) degrade(msg string, err error) error {
	if o.cfg.GracefulDegradation {
		o.logger.Warn("stealth: subsystem degraded, continuing", "reason", msg, "error", err)
		return nil
	}
	o.logger.Error("stealth: subsystem failed, degradation disabled", "reason", msg, "error", err)
	return resolveerr.New(resolveerr.CodeStealthSubsystem, msg, map[string]any{"graceful_degradation": false}, err)
}

func (o *Orchestrator) publish(kind eventbus.Kind, corrID, matchID string, evt EventType, sub Subsystem, success bool, details map[string]any) {
	if o.bus == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["event_type"] = string(evt)
	details["subsystem"] = string(sub)
	o.bus.Publish(eventbus.Event{
		Kind:          kind,
		CorrelationID: corrID,
		JobID:         matchID,
		Component:     "stealth." + string(sub),
		Severity:      eventbus.SeverityLow,
		Details:       details,
	})
}
