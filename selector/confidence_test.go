package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_DefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	total := w.ContentValidation + w.PositionStability + w.StrategyHistory +
		w.Performance + w.Visibility + w.Interactability
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestScorer_Score_PerfectCandidateNearsOne(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	strat := &Strategy{Priority: 1, Attempts: 100, Successes: 100}
	el := &ElementInfo{
		Tag:          "span",
		Text:         "Manchester United",
		Path:         `div#score-widget > article.team-name`,
		Visible:      true,
		Interactable: true,
	}
	score := s.Score(candidate{Element: el, Strategy: strat, ElapsedMS: 20})
	assert.Greater(t, score, 0.8)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScorer_Score_WeakCandidateIsLow(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	strat := &Strategy{Priority: 1, Attempts: 10, Successes: 1}
	el := &ElementInfo{
		Tag:          "div",
		Text:         "",
		Path:         `div > div > div > div:nth-child(2):nth-child(3)`,
		Visible:      false,
		Interactable: false,
	}
	score := s.Score(candidate{Element: el, Strategy: strat, ElapsedMS: 4000})
	assert.Less(t, score, 0.4)
}

func TestScorer_Score_ClampedToUnitInterval(t *testing.T) {
	s := NewScorer(Weights{
		ContentValidation: 1, PositionStability: 1, StrategyHistory: 1,
		Performance: 1, Visibility: 1, Interactability: 1,
	}, nil)
	strat := &Strategy{Attempts: 1, Successes: 1}
	el := &ElementInfo{Text: "Arsenal", Path: "div#x", Visible: true, Interactable: true}
	score := s.Score(candidate{Element: el, Strategy: strat, ElapsedMS: 1})
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestScorer_ContentValidation_BlendsRuleResultsWithHeuristic(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	el := &ElementInfo{Text: "Final Score"}
	withRules := s.contentValidation(candidate{
		Element: el,
		ValidationResults: []ValidationResult{
			{Score: 1.0, Weight: 1.0},
		},
	})
	withoutRules := s.contentValidation(candidate{Element: el})
	require.NotEqual(t, withRules, withoutRules)
	assert.Greater(t, withRules, 0.0)
}

func TestScorer_QualityGate_PerEnvironmentThresholds(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	assert.True(t, s.QualityGate(EnvTesting, 0.65))
	assert.False(t, s.QualityGate(EnvProduction, 0.65))
	assert.True(t, s.QualityGate(EnvProduction, 0.95))
}

func TestScorer_QualityGate_UnknownEnvironmentFallsBackToStrictest(t *testing.T) {
	s := NewScorer(DefaultWeights(), map[Environment]float64{EnvProduction: 0.9})
	assert.False(t, s.QualityGate(Environment("unknown"), 0.85))
}

func TestPerformanceScore_PiecewiseCurve(t *testing.T) {
	assert.Equal(t, 1.0, performanceScore(10))
	assert.InDelta(t, 0.9, performanceScore(100), 1e-9)
	assert.InDelta(t, 0.5, performanceScore(500), 1e-9)
	assert.InDelta(t, 0.2, performanceScore(1000), 1e-9)
	assert.Less(t, performanceScore(2000), 0.2)
	assert.GreaterOrEqual(t, performanceScore(100000), 0.0)
}

func TestPositionStability_RewardsIDAndSemanticTags(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	strong := s.positionStability(&ElementInfo{Path: `div#widget > article`})
	weak := s.positionStability(&ElementInfo{Path: `div > div > div > div:nth-child(1):nth-child(2)`})
	assert.Greater(t, strong, weak)
}
