package stealth

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/use-agent/resolveguard/cache"
)

// browserVersions mirrors the reference normalizer's telemetry-derived
// version pools per browser family.
var browserVersions = map[Browser][]string{
	BrowserChrome:  {"120.0.6099.129", "120.0.6099.110", "119.0.6045.159", "119.0.6045.105", "118.0.5993.232", "118.0.5993.70"},
	BrowserFirefox: {"121.0", "120.0", "119.0", "118.0"},
	BrowserSafari:  {"17.2.1", "17.2", "17.1.2", "17.1.1"},
}

var screenResolutions = [][2]int{
	{1920, 1080}, {1366, 768}, {1440, 900}, {2560, 1440}, {1280, 720},
	{2560, 1600}, {1600, 900}, {1024, 768}, {3840, 2160},
}

var timezonesByLanguage = map[string][]string{
	"en-US": {"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles", "UTC"},
	"en-GB": {"Europe/London", "Europe/Dublin", "UTC"},
	"en-AU": {"Australia/Sydney", "Australia/Melbourne", "Australia/Brisbane"},
	"fr-FR": {"Europe/Paris", "UTC"},
	"de-DE": {"Europe/Berlin", "UTC"},
	"es-ES": {"Europe/Madrid", "UTC"},
	"ja-JP": {"Asia/Tokyo", "UTC"},
	"zh-CN": {"Asia/Shanghai", "UTC"},
	"pt-BR": {"America/Sao_Paulo", "UTC"},
	"ru-RU": {"Europe/Moscow", "UTC"},
}

var timezoneOffsets = map[string]int{
	"UTC": 0, "America/New_York": -300, "America/Chicago": -360,
	"America/Denver": -420, "America/Los_Angeles": -480, "Europe/London": 0,
	"Europe/Paris": 60, "Europe/Berlin": 60, "Europe/Madrid": 60,
	"Asia/Tokyo": 540, "Australia/Sydney": 660, "Australia/Melbourne": 600,
	"Australia/Brisbane": 600, "Asia/Shanghai": 480, "America/Sao_Paulo": -180,
	"Europe/Moscow": 180, "Europe/Dublin": 0,
}

var chromePlugins = []string{"Chrome PDF Plugin", "Chrome PDF Viewer", "Native Client Plugin"}
var firefoxPlugins = []string{"Firefox built-in plugins"}

var pixelRatios = []float64{1.0, 1.5, 2.0}

var bcp47Re = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// fallbackFingerprint is returned when repeated generation attempts fail
// the coherence predicate; it is known-good by construction.
func fallbackFingerprint() Fingerprint {
	return Fingerprint{
		UserAgent:             "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.129 Safari/537.36",
		Browser:               BrowserChrome,
		BrowserVersion:        "120.0.6099.129",
		Platform:              PlatformWindows,
		PlatformVersion:       "10.0",
		Language:              "en-US",
		Timezone:              "America/New_York",
		TimezoneOffsetMinutes: -300,
		ScreenWidth:           1920,
		ScreenHeight:          1080,
		ColorDepth:            24,
		PixelDepth:            24,
		DevicePixelRatio:      1.0,
		Plugins:               append([]string{}, chromePlugins...),
		MediaDevices:          defaultMediaDevices(),
		Timestamp:             time.Now(),
		Consistent:            true,
	}
}

func defaultMediaDevices() map[string]any {
	return map[string]any{
		"microphone": []string{"audioinput"},
		"camera":     []string{"videoinput"},
		"speaker":    []string{"audiooutput"},
	}
}

// FingerprintNormalizer generates and validates internally-consistent
// browser fingerprints (component D), optionally caching one fingerprint
// per session to avoid cross-request drift.
type FingerprintNormalizer struct {
	rng              *rand.Rand
	cacheEnabled     bool
	consistencyLevel ConsistencyLevel
	cached           *cache.Cache[Fingerprint]
}

// NewFingerprintNormalizer wires a normalizer with an explicit RNG source
// (injected, not global, so generation is reproducible in tests). Cached
// fingerprints are retained for up to 24h per session, long enough to
// outlive any single scraping job.
func NewFingerprintNormalizer(seed int64, cacheEnabled bool, level ConsistencyLevel) *FingerprintNormalizer {
	return &FingerprintNormalizer{
		rng:              rand.New(rand.NewSource(seed)),
		cacheEnabled:     cacheEnabled,
		consistencyLevel: level,
		cached:           cache.New[Fingerprint](10000, 24*time.Hour),
	}
}

// Generate produces a coherent fingerprint for sessionID, reusing a
// cached one if caching is enabled and a fingerprint already exists for
// that session.
func (n *FingerprintNormalizer) Generate(sessionID string) Fingerprint {
	if n.cacheEnabled {
		if fp, ok := n.cached.Get(sessionID); ok {
			return fp
		}
	}

	const maxAttempts = 10
	var best Fingerprint
	for i := 0; i < maxAttempts; i++ {
		fp := n.generateOne()
		fp.Consistent = Coherent(fp)
		if fp.Consistent {
			if n.cacheEnabled {
				n.cached.Set(sessionID, fp)
			}
			return fp
		}
		best = fp
	}
	_ = best
	fallback := fallbackFingerprint()
	if n.cacheEnabled {
		n.cached.Set(sessionID, fallback)
	}
	return fallback
}

func (n *FingerprintNormalizer) generateOne() Fingerprint {
	browsers := []Browser{BrowserChrome, BrowserFirefox, BrowserSafari}
	browser := browsers[n.rng.Intn(len(browsers))]

	var platform Platform
	if browser == BrowserSafari {
		platform = PlatformMacOS
	} else {
		platforms := []Platform{PlatformWindows, PlatformMacOS, PlatformLinux}
		platform = platforms[n.rng.Intn(len(platforms))]
	}

	version := browserVersions[browser][n.rng.Intn(len(browserVersions[browser]))]

	languages := make([]string, 0, len(timezonesByLanguage))
	for lang := range timezonesByLanguage {
		languages = append(languages, lang)
	}
	language := languages[n.rng.Intn(len(languages))]
	tzOptions := timezonesByLanguage[language]
	timezone := tzOptions[n.rng.Intn(len(tzOptions))]

	res := screenResolutions[n.rng.Intn(len(screenResolutions))]
	ratio := pixelRatios[n.rng.Intn(len(pixelRatios))]

	colorDepth := 24
	if n.rng.Intn(5) == 0 {
		colorDepth = 32
	}

	var plugins []string
	switch browser {
	case BrowserChrome:
		plugins = chromePlugins
	case BrowserFirefox:
		plugins = firefoxPlugins
	default:
		plugins = nil
	}

	platformVersion := platformVersionFor(platform, n.rng)

	return Fingerprint{
		UserAgent:             buildUserAgent(browser, version, platform, platformVersion),
		Browser:               browser,
		BrowserVersion:        version,
		Platform:              platform,
		PlatformVersion:       platformVersion,
		Language:              language,
		Timezone:              timezone,
		TimezoneOffsetMinutes: timezoneOffsets[timezone],
		ScreenWidth:           res[0],
		ScreenHeight:          res[1],
		ColorDepth:            colorDepth,
		PixelDepth:            colorDepth,
		DevicePixelRatio:      ratio,
		Plugins:               append([]string{}, plugins...),
		MediaDevices:          defaultMediaDevices(),
		Timestamp:             time.Now(),
	}
}

func platformVersionFor(p Platform, rng *rand.Rand) string {
	switch p {
	case PlatformWindows:
		return "10.0"
	case PlatformMacOS:
		versions := []string{"10_15_7", "13_2_1", "14_1"}
		return versions[rng.Intn(len(versions))]
	default:
		return "x86_64"
	}
}

func buildUserAgent(browser Browser, version string, platform Platform, platformVersion string) string {
	switch browser {
	case BrowserChrome:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", platformToken(platform, platformVersion), version)
	case BrowserFirefox:
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", platformToken(platform, platformVersion), version, version)
	default: // safari
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", platformVersion, version)
	}
}

func platformToken(p Platform, version string) string {
	switch p {
	case PlatformWindows:
		return "Windows NT " + version + "; Win64; x64"
	case PlatformMacOS:
		return "Macintosh; Intel Mac OS X " + version
	default:
		return "X11; Linux " + version
	}
}

// Coherent implements the eight-point coherence predicate from the
// fingerprint subsystem's design: user-agent/platform/browser tokens
// agree, Safari implies macOS, timezone matches the language region,
// plugin set matches the browser, screen dimensions and pixel ratio and
// color depth fall in allowed ranges, and the language tag is valid
// BCP-47 `ll-RR` shape.
func Coherent(fp Fingerprint) bool {
	ua := strings.ToLower(fp.UserAgent)
	switch fp.Browser {
	case BrowserChrome:
		if !strings.Contains(ua, "chrome") {
			return false
		}
	case BrowserFirefox:
		if !strings.Contains(ua, "firefox") {
			return false
		}
	case BrowserSafari:
		if !strings.Contains(ua, "safari") || strings.Contains(ua, "chrome") {
			return false
		}
		if fp.Platform != PlatformMacOS {
			return false
		}
	default:
		return false
	}

	switch fp.Platform {
	case PlatformWindows:
		if !strings.Contains(ua, "windows") {
			return false
		}
	case PlatformMacOS:
		if !strings.Contains(ua, "mac") {
			return false
		}
	case PlatformLinux:
		if !strings.Contains(ua, "linux") && !strings.Contains(ua, "x11") {
			return false
		}
	default:
		return false
	}

	allowedTZ, ok := timezonesByLanguage[fp.Language]
	if !ok {
		return false
	}
	found := false
	for _, tz := range allowedTZ {
		if tz == fp.Timezone {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	var wantPlugins []string
	switch fp.Browser {
	case BrowserChrome:
		wantPlugins = chromePlugins
	case BrowserFirefox:
		wantPlugins = firefoxPlugins
	default:
		wantPlugins = nil
	}
	if len(wantPlugins) != len(fp.Plugins) {
		return false
	}
	for i, p := range wantPlugins {
		if fp.Plugins[i] != p {
			return false
		}
	}

	if fp.ScreenWidth < 800 || fp.ScreenWidth > 7680 || fp.ScreenHeight < 600 || fp.ScreenHeight > 4320 {
		return false
	}

	ratioOK := false
	for _, r := range pixelRatios {
		if fp.DevicePixelRatio == r {
			ratioOK = true
			break
		}
	}
	if !ratioOK {
		return false
	}

	if fp.ColorDepth != 24 && fp.ColorDepth != 32 {
		return false
	}

	if !bcp47Re.MatchString(fp.Language) {
		return false
	}

	return true
}
