package stealth

import (
	"context"
	"strings"
	"time"

	"github.com/use-agent/resolveguard/resolveerr"
)

// ConsentDriver is the narrow page surface the consent handler needs:
// check for an element and read its text, and click the accept button.
type ConsentDriver interface {
	QuerySelector(cssSelector string) (found bool, text string, err error)
	Click(cssSelector string) error
}

// Pattern is a consent-dialog detection rule: a dialog selector, an
// accept-button selector, and optional text keywords that must appear in
// the matched dialog element's text.
type Pattern struct {
	Name                 string
	DialogSelector       string
	AcceptButtonSelector string
	TextHeuristics       []string
}

// Matches reports whether the dialog selector resolves and, when text
// heuristics are present, at least one keyword appears in the dialog
// element's text.
func (p Pattern) Matches(drv ConsentDriver) bool {
	found, text, err := drv.QuerySelector(p.DialogSelector)
	if err != nil || !found {
		return false
	}
	if len(p.TextHeuristics) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range p.TextHeuristics {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// standardPatterns ships the default pattern bank: cookie banner, GDPR
// modal, generic modal.
var standardPatterns = []Pattern{
	{
		Name:                 "cookie_banner",
		DialogSelector:       "[role='dialog'], .cookie-banner, .cookie-consent, .consent-banner",
		AcceptButtonSelector: "button.accept, button.cookie-accept, [data-testid='accept-button']",
		TextHeuristics:       []string{"cookie", "consent", "accept"},
	},
	{
		Name:                 "gdpr_modal",
		DialogSelector:       "[role='dialog'][aria-label*='consent'], .gdpr-modal, .gdpr-notice",
		AcceptButtonSelector: "button.gdpr-accept, [data-testid='accept-button']",
		TextHeuristics:       []string{"GDPR", "gdpr", "personal data", "consent"},
	},
	{
		Name:                 "generic_modal",
		DialogSelector:       "[role='dialog'], .modal, .popup",
		AcceptButtonSelector: "button.ok, button.agree, button.accept",
		TextHeuristics:       []string{"cookie", "consent", "agree"},
	},
}

// Handler detects and dismisses consent dialogs (component G). Custom
// patterns registered at runtime are checked before the default bank.
type Handler struct {
	custom            []Pattern
	verifyDismissal   bool
}

// NewHandler wires a handler; verifyDismissal controls whether
// DetectAndAccept re-queries the dialog selector after clicking accept.
func NewHandler(verifyDismissal bool) *Handler {
	return &Handler{verifyDismissal: verifyDismissal}
}

// RegisterPattern adds a custom, site-specific consent pattern, checked
// ahead of the standard bank.
func (h *Handler) RegisterPattern(p Pattern) {
	h.custom = append(h.custom, p)
}

// DetectDialog reports whether a consent dialog is present, checking
// custom patterns before the standard bank.
func (h *Handler) DetectDialog(drv ConsentDriver) (found bool, pattern Pattern) {
	for _, p := range h.custom {
		if p.Matches(drv) {
			return true, p
		}
	}
	for _, p := range standardPatterns {
		if p.Matches(drv) {
			return true, p
		}
	}
	return false, Pattern{}
}

// DetectAndAccept races detection against timeout, clicks the matched
// pattern's accept button, then — unless verification is disabled —
// confirms dismissal by re-querying the dialog selector.
func (h *Handler) DetectAndAccept(ctx context.Context, drv ConsentDriver, timeout time.Duration) (accepted bool, patternName string, err error) {
	detectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type detection struct {
		found   bool
		pattern Pattern
	}
	resultCh := make(chan detection, 1)
	go func() {
		found, p := h.DetectDialog(drv)
		resultCh <- detection{found, p}
	}()

	var det detection
	select {
	case det = <-resultCh:
	case <-detectCtx.Done():
		return false, "", nil
	}

	if !det.found {
		return false, "", nil
	}

	if err := drv.Click(det.pattern.AcceptButtonSelector); err != nil {
		return false, det.pattern.Name, resolveerr.New(resolveerr.CodeBrowser, "failed to click consent accept button", map[string]any{"pattern": det.pattern.Name}, err)
	}

	if h.verifyDismissal {
		stillPresent, _, _ := drv.QuerySelector(det.pattern.DialogSelector)
		if stillPresent {
			return false, det.pattern.Name, resolveerr.New(resolveerr.CodeBrowser, "consent dialog still present after accept", map[string]any{"pattern": det.pattern.Name}, nil)
		}
	}

	return true, det.pattern.Name, nil
}
