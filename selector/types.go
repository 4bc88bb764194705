// Package selector implements the multi-strategy selector resolver: the
// registry of named selectors, the four strategy implementations, the
// confidence scorer, the validation engine, and the resolver itself.
package selector

import "time"

// TabState is the lifecycle state of a named tab region within a page.
type TabState string

const (
	TabNotLoaded TabState = "not_loaded"
	TabLoaded    TabState = "loaded"
	TabActive    TabState = "active"
)

// TabContext scopes resolution to a named tab region.
type TabContext struct {
	TabID        string
	TabType      string
	State        TabState
	Visible      bool
	DOMScopeExpr string
}

// StrategyConfig is the tagged-variant arm for a resolution strategy's
// configuration. Only the four concrete types below satisfy it; attempting
// to register any other type is rejected at registration.
type StrategyConfig interface {
	isStrategyConfig()
	Kind() string
}

// TextAnchorConfig locates an element whose normalized text equals
// AnchorText, optionally restricted to descendants of ProximitySelector.
type TextAnchorConfig struct {
	AnchorText         string
	ProximitySelector  string
	CaseSensitive      bool
}

func (TextAnchorConfig) isStrategyConfig() {}
func (TextAnchorConfig) Kind() string      { return "text_anchor" }

// AttributeMatchConfig locates an element whose attribute value matches a
// regex ValuePattern, optionally constrained by Tag.
type AttributeMatchConfig struct {
	Attribute    string
	ValuePattern string
	Tag          string // optional tag constraint, empty = any tag
}

func (AttributeMatchConfig) isStrategyConfig() {}
func (AttributeMatchConfig) Kind() string      { return "attribute_match" }

// RelationshipKind enumerates DOM-relationship navigation modes.
type RelationshipKind string

const (
	RelationChild               RelationshipKind = "child"
	RelationDescendantFirstKind RelationshipKind = "descendant_first_of_kind"
	RelationSibling             RelationshipKind = "sibling"
)

// DOMRelationshipConfig navigates from ParentSelector via Relationship,
// optionally with an nth-child Index for RelationChild.
type DOMRelationshipConfig struct {
	ParentSelector string
	Relationship   RelationshipKind
	Index          int // used only by RelationChild
}

func (DOMRelationshipConfig) isStrategyConfig() {}
func (DOMRelationshipConfig) Kind() string      { return "dom_relationship" }

// RoleBasedConfig locates an element by ARIA role, optionally with an
// accessible name.
type RoleBasedConfig struct {
	Role           string
	AccessibleName string
}

func (RoleBasedConfig) isStrategyConfig() {}
func (RoleBasedConfig) Kind() string      { return "role_based" }

// Strategy pairs a priority (lower = earlier) with its tagged config and
// rolling performance counters used by the confidence scorer.
type Strategy struct {
	Priority int
	Config   StrategyConfig

	// Rolling counters, mutated only under the registry's lock.
	Attempts     int64
	Successes    int64
	TotalTimeNS  int64
}

// SuccessRate returns the rolling success rate, defaulting to 0.5 with no
// observations yet (per the confidence scorer's "Strategy history" factor).
func (s *Strategy) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0.5
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// DataType enumerates the type-checked validation rule kinds.
type DataType string

const (
	DataTypeFloat   DataType = "float"
	DataTypeInt     DataType = "int"
	DataTypeString  DataType = "string"
	DataTypeBoolean DataType = "boolean"
)

// SemanticKind enumerates the domain-specific validation rule kinds.
type SemanticKind string

const (
	SemanticTeamName SemanticKind = "team_name"
	SemanticScore    SemanticKind = "score"
	SemanticTime     SemanticKind = "time"
	SemanticDate     SemanticKind = "date"
	SemanticOdds     SemanticKind = "odds"
)

// ValidationRule is the tagged-variant arm for one rule evaluated against a
// resolved ElementInfo.
type ValidationRule interface {
	isValidationRule()
	RuleType() string
	Weight() float64
	Required() bool
}

type baseRule struct {
	W float64
	R bool
}

func (b baseRule) Weight() float64 { return b.W }
func (b baseRule) Required() bool  { return b.R }

// RegexRule requires a full match of the trimmed element text.
type RegexRule struct {
	baseRule
	Pattern string
}

func NewRegexRule(pattern string, weight float64, required bool) RegexRule {
	return RegexRule{baseRule: baseRule{W: weight, R: required}, Pattern: pattern}
}
func (RegexRule) isValidationRule() {}
func (RegexRule) RuleType() string  { return "regex" }

// DataTypeRule attempts a conservative parse of the element text as Type.
type DataTypeRule struct {
	baseRule
	Type DataType
}

func NewDataTypeRule(t DataType, weight float64, required bool) DataTypeRule {
	return DataTypeRule{baseRule: baseRule{W: weight, R: required}, Type: t}
}
func (DataTypeRule) isValidationRule() {}
func (DataTypeRule) RuleType() string  { return "data_type" }

// SemanticRule bundles a domain heuristic keyed by Kind.
type SemanticRule struct {
	baseRule
	Kind SemanticKind
}

func NewSemanticRule(kind SemanticKind, weight float64, required bool) SemanticRule {
	return SemanticRule{baseRule: baseRule{W: weight, R: required}, Kind: kind}
}
func (SemanticRule) isValidationRule() {}
func (SemanticRule) RuleType() string  { return "semantic" }

// CustomRule delegates to a caller-supplied predicate function.
type CustomRule struct {
	baseRule
	Name  string
	Check func(text string) (score float64, message string)
}

func NewCustomRule(name string, weight float64, required bool, check func(string) (float64, string)) CustomRule {
	return CustomRule{baseRule: baseRule{W: weight, R: required}, Name: name, Check: check}
}
func (CustomRule) isValidationRule() {}
func (CustomRule) RuleType() string  { return "custom" }

// ValidationResult is the outcome of evaluating one rule.
type ValidationResult struct {
	RuleType string
	Passed   bool
	Score    float64
	Weight   float64
	Message  string
}

// ElementInfo is a snapshot of the matched DOM node.
type ElementInfo struct {
	Tag            string
	Text           string
	Attributes     map[string]string
	Classes        map[string]struct{}
	Path           string // DOM path string used by the position-stability heuristic
	Visible        bool
	Interactable   bool
}

// Result is the outcome of resolving a single selector.
type Result struct {
	SelectorName     string
	StrategyUsed     string
	Element          *ElementInfo
	ConfidenceScore  float64
	ResolutionTimeMS int64
	ValidationResults []ValidationResult
	Success          bool
	Timestamp        time.Time
	FailureReason    string
	SnapshotID       string
	TabContext       string
	Metadata         map[string]any
}

// SemanticSelector is the registry entry: a named mapping from a stable
// identifier to a prioritized set of strategies, validation rules, and a
// confidence threshold.
type SemanticSelector struct {
	Name                string
	TabContext          string // optional, empty means unscoped
	Strategies          []*Strategy
	ValidationRules     []ValidationRule
	ConfidenceThreshold float64

	RegisteredAt time.Time
	LastUpdated  time.Time
	UsageCount   int64
	LastUsed     time.Time
	Metadata     map[string]any
}
