// Package stealth implements the Stealth Orchestrator (component I) and
// its five subsystems: fingerprint normalization (D), proxy management
// (E), behavior emulation (F), consent handling (G), and anti-detection
// masking (H).
package stealth

import "time"

// Browser family and platform tokens used by fingerprint generation and
// the coherence predicate.
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
)

// Platform is the reported OS family.
type Platform string

const (
	PlatformWindows Platform = "Windows"
	PlatformMacOS   Platform = "macOS"
	PlatformLinux   Platform = "Linux"
)

// Fingerprint encapsulates all reported browser properties for a
// realistic device fingerprint. Every field participates in the
// coherence predicate checked by Coherent.
type Fingerprint struct {
	UserAgent            string
	Browser              Browser
	BrowserVersion        string
	Platform             Platform
	PlatformVersion       string
	Language              string
	Timezone              string
	TimezoneOffsetMinutes int
	ScreenWidth           int
	ScreenHeight          int
	ColorDepth            int
	PixelDepth            int
	DevicePixelRatio      float64
	Plugins               []string
	MediaDevices          map[string]any
	Timestamp             time.Time
	Consistent            bool
}

// ProxyStatus is the lifecycle state of a ProxySession.
type ProxyStatus string

const (
	ProxyActive    ProxyStatus = "active"
	ProxyExhausted ProxyStatus = "exhausted"
	ProxyFailed    ProxyStatus = "failed"
)

// RotationStrategy controls when the proxy manager issues a new session.
type RotationStrategy string

const (
	RotatePerMatch   RotationStrategy = "per_match"
	RotatePerSession RotationStrategy = "per_session"
	RotatePerTimeout RotationStrategy = "per_timeout"
)

// ProxySession is a sticky residential proxy session: all requests within
// a session share an IP and cookie state.
type ProxySession struct {
	SessionID    string
	IPAddress    string
	Port         int
	Provider     string
	ProxyURL     string
	Cookies      map[string]string
	CreatedAt    time.Time
	LastActivity time.Time
	TTL          time.Duration
	RequestCount int
	Status       ProxyStatus
	ErrorMessage string
}

// Expired reports whether the session has exceeded its TTL.
func (s *ProxySession) Expired() bool {
	return time.Since(s.CreatedAt) > s.TTL
}

// MarkActivity records a request against the session.
func (s *ProxySession) MarkActivity() {
	s.LastActivity = time.Now()
	s.RequestCount++
}

// MarkFailed transitions the session to Failed with a reason.
func (s *ProxySession) MarkFailed(reason string) {
	s.Status = ProxyFailed
	s.ErrorMessage = reason
}

// Intensity selects a behavior emulation timing profile.
type Intensity string

const (
	IntensityConservative Intensity = "conservative"
	IntensityModerate     Intensity = "moderate"
	IntensityAggressive   Intensity = "aggressive"
)

// ConsistencyLevel controls how strictly fingerprint coherence is
// enforced.
type ConsistencyLevel string

const (
	ConsistencyStrict   ConsistencyLevel = "strict"
	ConsistencyModerate ConsistencyLevel = "moderate"
	ConsistencyRelaxed  ConsistencyLevel = "relaxed"
)

// EventType enumerates anti-detection audit events.
type EventType string

const (
	EventFingerprintInit EventType = "fingerprint_initialized"
	EventProxyCreated    EventType = "proxy_session_created"
	EventProxyRotated    EventType = "proxy_rotated"
	EventBehaviorSim     EventType = "behavior_simulated"
	EventConsentAccepted EventType = "consent_accepted"
	EventConsentFailed   EventType = "consent_failed"
	EventMaskApplied     EventType = "mask_applied"
	EventMaskFailed      EventType = "mask_failed"
	EventError           EventType = "error"
)

// Subsystem names the stealth component that emitted an AuditEvent.
type Subsystem string

const (
	SubsystemFingerprint    Subsystem = "fingerprint"
	SubsystemProxyManager   Subsystem = "proxy_manager"
	SubsystemBehavior       Subsystem = "behavior"
	SubsystemConsentHandler Subsystem = "consent_handler"
	SubsystemAntiDetection  Subsystem = "anti_detection"
	SubsystemCoordinator    Subsystem = "coordinator"
)

// AuditEvent documents a stealth measure applied during a run, for
// post-mortem analysis.
type AuditEvent struct {
	Timestamp  time.Time
	RunID      string
	MatchID    string
	EventType  EventType
	Subsystem  Subsystem
	Severity   string
	Details    map[string]any
	DurationMS int64
	Success    bool
}
