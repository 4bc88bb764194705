package stealth

import (
	"fmt"
	"strings"

	"github.com/use-agent/resolveguard/resolveerr"
)

// ScriptInstaller is the narrow page surface the masker needs: install a
// script that runs before any page script on every future navigation.
type ScriptInstaller interface {
	AddInitScript(js string) error
}

// MaskOptions controls which masking measures the generated script
// includes; each can be independently disabled via stealth config.
type MaskOptions struct {
	MaskWebdriver            bool
	MaskPlaywrightIndicators bool
	MaskProcess              bool
	RealisticPlugins         bool
	NeuterChromeTimers       bool
	GrantPermissionsQuery    bool
}

// DefaultMaskOptions enables every measure, matching the reference
// implementation's default behavior.
func DefaultMaskOptions() MaskOptions {
	return MaskOptions{
		MaskWebdriver:            true,
		MaskPlaywrightIndicators: true,
		MaskProcess:              true,
		RealisticPlugins:         true,
		NeuterChromeTimers:       true,
		GrantPermissionsQuery:    true,
	}
}

var realisticPlugins = []string{
	"Chrome PDF Plugin", "Chrome PDF Viewer", "Native Client Plugin",
}

// BuildScript renders the pre-navigation masking script for the given
// options. Property removal happens on both the navigator instance and
// its prototype since some detectors check both.
func BuildScript(opts MaskOptions) string {
	var sb strings.Builder
	sb.WriteString("(() => {\n")

	if opts.MaskWebdriver {
		sb.WriteString(`
  try {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
  } catch (e) {}
  try {
    Object.defineProperty(navigator.__proto__, 'webdriver', { get: () => undefined, configurable: true });
  } catch (e) {}
`)
	}

	if opts.MaskPlaywrightIndicators {
		sb.WriteString(`
  try {
    delete window.__playwright;
    delete window.__pw_manual;
    delete window.__PW_inspect;
  } catch (e) {}
`)
	}

	if opts.MaskProcess {
		sb.WriteString(`
  try {
    if (typeof window !== 'undefined' && window.process) {
      Object.defineProperty(window.process, 'version', { get: () => undefined, configurable: true });
      Object.defineProperty(window.process, 'versions', { get: () => undefined, configurable: true });
    }
  } catch (e) {}
`)
	}

	if opts.RealisticPlugins {
		names := make([]string, len(realisticPlugins))
		for i, p := range realisticPlugins {
			names[i] = fmt.Sprintf("%q", p)
		}
		sb.WriteString(fmt.Sprintf(`
  try {
    const pluginNames = [%s];
    const fakePlugins = pluginNames.map(name => ({ name, filename: name, description: name }));
    Object.defineProperty(navigator, 'plugins', { get: () => fakePlugins, configurable: true });
  } catch (e) {}
`, strings.Join(names, ", ")))
	}

	if opts.NeuterChromeTimers {
		sb.WriteString(`
  try {
    if (window.chrome) {
      delete window.chrome.loadTimes;
      delete window.chrome.csi;
    }
  } catch (e) {}
`)
	}

	if opts.GrantPermissionsQuery {
		sb.WriteString(`
  try {
    const originalQuery = window.navigator.permissions.query;
    window.navigator.permissions.query = (params) => (
      params && params.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(params)
    );
  } catch (e) {}
`)
	}

	sb.WriteString("})();")
	return sb.String()
}

// Masker installs the anti-detection script (component H). Install
// failure is logged by the caller and, when graceful_degradation is
// enabled, does not abort the resolve path.
type Masker struct {
	opts MaskOptions
}

// NewMasker wires a masker with the given options.
func NewMasker(opts MaskOptions) *Masker {
	return &Masker{opts: opts}
}

// Install applies the masking script to drv once per context.
func (m *Masker) Install(drv ScriptInstaller) error {
	if err := drv.AddInitScript(BuildScript(m.opts)); err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "failed to install anti-detection script", nil, err)
	}
	return nil
}
