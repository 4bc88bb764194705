package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNormalizer_Generate_IsCoherent(t *testing.T) {
	n := NewFingerprintNormalizer(1, false, ConsistencyStrict)
	fp := n.Generate("session-1")
	assert.True(t, fp.Consistent)
	assert.NotEmpty(t, fp.UserAgent)
	assert.NotEmpty(t, fp.Timezone)
	assert.Contains(t, fp.UserAgent, fp.BrowserVersion)
}

func TestFingerprintNormalizer_Generate_CachingReturnsSameFingerprintPerSession(t *testing.T) {
	n := NewFingerprintNormalizer(42, true, ConsistencyModerate)
	first := n.Generate("session-a")
	second := n.Generate("session-a")
	assert.Equal(t, first, second)

	other := n.Generate("session-b")
	// Different sessions aren't guaranteed to differ (RNG could repeat), so
	// session-b's fingerprint is only checked for presence, not compared
	// with session-a's.
	assert.NotNil(t, other)
}

func TestFingerprintNormalizer_Generate_WithoutCachingEachCallIsCoherent(t *testing.T) {
	n := NewFingerprintNormalizer(7, false, ConsistencyRelaxed)
	first := n.Generate("session-x")
	second := n.Generate("session-x")
	assert.True(t, first.Consistent)
	assert.True(t, second.Consistent)
}

func TestCoherent_FallbackFingerprintIsAlwaysCoherent(t *testing.T) {
	fp := fallbackFingerprint()
	assert.True(t, Coherent(fp))
}

func TestCoherent_RejectsMismatchedPlatformScreenCombination(t *testing.T) {
	fp := fallbackFingerprint()
	fp.ScreenWidth = -1
	fp.ScreenHeight = -1
	assert.False(t, Coherent(fp))
}
