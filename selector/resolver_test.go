package selector

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/snapshot"
)

// fakePage is a minimal selector.PageHandle backed by static HTML, standing
// in for a driver.Page in resolver tests.
type fakePage struct {
	html string
	url  string
	ua   string
	tabs map[string]TabState
}

func (p *fakePage) Content(ctx context.Context) (string, error) { return p.html, nil }
func (p *fakePage) URL() string                                 { return p.url }
func (p *fakePage) UserAgent() string                           { return p.ua }
func (p *fakePage) TabStates() map[string]TabState {
	if p.tabs == nil {
		return map[string]TabState{}
	}
	return p.tabs
}

func testBus() *eventbus.Bus {
	return eventbus.New(32, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSnapshots(t *testing.T) *snapshot.Store {
	return snapshot.New(snapshot.Config{Dir: t.TempDir(), KeepFailureCount: 5, MaxAge: 24 * time.Hour})
}

func threeStrategySelector(name string) *SemanticSelector {
	return &SemanticSelector{
		Name: name,
		Strategies: []*Strategy{
			{Priority: 1, Config: TextAnchorConfig{AnchorText: "Manchester United"}},
			{Priority: 2, Config: AttributeMatchConfig{Attribute: "data-team", ValuePattern: ".+"}},
			{Priority: 3, Config: RoleBasedConfig{Role: "heading"}},
		},
		ConfidenceThreshold: 0.5,
	}
}

const samplePageHTML = `<html><body>
  <div id="score-widget">
    <article class="team-name" data-team="home">Manchester United</article>
  </div>
</body></html>`

func TestResolver_Resolve_SucceedsOnFirstMatchingStrategy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(threeStrategySelector("home-team")))

	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	rc := ResolveContext{Page: &fakePage{html: samplePageHTML, url: "https://example.com"}, Env: EnvTesting}
	res, err := resolver.Resolve(context.Background(), "home-team", rc)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, "text_anchor", res.StrategyUsed)
	assert.Greater(t, res.ConfidenceScore, 0.0)
}

func TestResolver_Resolve_UnknownSelectorReturnsError(t *testing.T) {
	reg := NewRegistry()
	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	_, err := resolver.Resolve(context.Background(), "nonexistent", ResolveContext{Page: &fakePage{html: samplePageHTML}})
	assert.Error(t, err)
}

func TestResolver_Resolve_AllStrategiesFailProducesSnapshotAndFailureResult(t *testing.T) {
	reg := NewRegistry()
	sel := threeStrategySelector("missing-team")
	sel.Strategies[0] = &Strategy{Priority: 1, Config: TextAnchorConfig{AnchorText: "Nonexistent Team Name"}}
	sel.Strategies[1] = &Strategy{Priority: 2, Config: AttributeMatchConfig{Attribute: "data-team", ValuePattern: "^away$"}}
	sel.Strategies[2] = &Strategy{Priority: 3, Config: RoleBasedConfig{Role: "nonexistent-role"}}
	require.NoError(t, reg.Register(sel))

	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	res, err := resolver.Resolve(context.Background(), "missing-team", ResolveContext{Page: &fakePage{html: samplePageHTML, url: "https://example.com"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "All strategies failed", res.FailureReason)
	assert.NotEmpty(t, res.SnapshotID)
}

func TestResolver_Resolve_TabContextGatesOnState(t *testing.T) {
	reg := NewRegistry()
	sel := threeStrategySelector("tab-scoped")
	sel.TabContext = "live-scores"
	require.NoError(t, reg.Register(sel))

	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	// Tab not known at all.
	res, err := resolver.Resolve(context.Background(), "tab-scoped", ResolveContext{
		Page: &fakePage{html: samplePageHTML},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "tab_context_not_loaded", res.FailureReason)

	// Tab known but explicitly not loaded.
	res, err = resolver.Resolve(context.Background(), "tab-scoped", ResolveContext{
		Page: &fakePage{html: samplePageHTML, tabs: map[string]TabState{"live-scores": TabNotLoaded}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "tab_context_not_loaded", res.FailureReason)

	// Tab loaded but not active (e.g. a background tab) must gate as
	// inactive, not pass through as if scoping were satisfied.
	res, err = resolver.Resolve(context.Background(), "tab-scoped", ResolveContext{
		Page: &fakePage{html: samplePageHTML, tabs: map[string]TabState{"live-scores": TabLoaded}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "tab_context_inactive", res.FailureReason)

	// Tab active: strategies proceed normally.
	res, err = resolver.Resolve(context.Background(), "tab-scoped", ResolveContext{
		Page: &fakePage{html: samplePageHTML, tabs: map[string]TabState{"live-scores": TabActive}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestResolver_ResolveBatch_ReturnsOneResultPerNameInOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(threeStrategySelector("a")))
	require.NoError(t, reg.Register(threeStrategySelector("b")))

	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	results, err := resolver.ResolveBatch(context.Background(), []string{"a", "b"}, ResolveContext{
		Page: &fakePage{html: samplePageHTML},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].SelectorName)
	assert.Equal(t, "b", results[1].SelectorName)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestResolver_ResolveBatch_UnknownNameFailsFast(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(threeStrategySelector("known")))
	resolver := NewResolver(reg, NewScorer(DefaultWeights(), nil), testBus(), testSnapshots(t), time.Second, 4)

	_, err := resolver.ResolveBatch(context.Background(), []string{"known", "missing"}, ResolveContext{
		Page: &fakePage{html: samplePageHTML},
	})
	assert.Error(t, err)
}

func TestFilterByConfidence(t *testing.T) {
	results := []*Result{
		{ConfidenceScore: 0.9},
		{ConfidenceScore: 0.4},
		{ConfidenceScore: 0.7},
	}
	filtered := FilterByConfidence(results, 0.6)
	assert.Len(t, filtered, 2)
}

func TestComputeStatistics(t *testing.T) {
	results := []*Result{
		{Success: true, ConfidenceScore: 0.9},
		{Success: false, ConfidenceScore: 0.3},
		{Success: true, ConfidenceScore: 0.6},
	}
	stats := ComputeStatistics(results)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.InDelta(t, 0.6, stats.MeanConfidence, 1e-9)
	assert.InDelta(t, 0.3, stats.MinConfidence, 1e-9)
	assert.InDelta(t, 0.9, stats.MaxConfidence, 1e-9)
}
