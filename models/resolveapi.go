package models

// Selector-domain error codes for the HTTP control plane, alongside the
// general-purpose codes in errors.go.
const (
	ErrCodeSelectorNotFound    = "SELECTOR_NOT_FOUND"
	ErrCodeSelectorExists      = "SELECTOR_ALREADY_EXISTS"
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeConfidenceThreshold = "CONFIDENCE_THRESHOLD"
	ErrCodeSnapshotNotFound    = "SNAPSHOT_NOT_FOUND"
	ErrCodeJobNotFound         = "JOB_NOT_FOUND"
	ErrCodeAbortFailed         = "ABORT_FAILED"
)

// StrategyDTO is the wire shape for one prioritized resolution strategy.
// Exactly one of the Kind-named fields should be set, matching Kind.
type StrategyDTO struct {
	Priority        int                 `json:"priority"`
	Kind            string              `json:"kind"`
	TextAnchor      *TextAnchorDTO      `json:"text_anchor,omitempty"`
	AttributeMatch  *AttributeMatchDTO  `json:"attribute_match,omitempty"`
	DOMRelationship *DOMRelationshipDTO `json:"dom_relationship,omitempty"`
	RoleBased       *RoleBasedDTO       `json:"role_based,omitempty"`

	Attempts    int64   `json:"attempts,omitempty"`
	Successes   int64   `json:"successes,omitempty"`
	SuccessRate float64 `json:"success_rate,omitempty"`
}

type TextAnchorDTO struct {
	AnchorText        string `json:"anchor_text"`
	ProximitySelector string `json:"proximity_selector,omitempty"`
	CaseSensitive     bool   `json:"case_sensitive,omitempty"`
}

type AttributeMatchDTO struct {
	Attribute    string `json:"attribute"`
	ValuePattern string `json:"value_pattern"`
	Tag          string `json:"tag,omitempty"`
}

type DOMRelationshipDTO struct {
	ParentSelector string `json:"parent_selector"`
	Relationship   string `json:"relationship"`
	Index          int    `json:"index,omitempty"`
}

type RoleBasedDTO struct {
	Role           string `json:"role"`
	AccessibleName string `json:"accessible_name,omitempty"`
}

// ValidationRuleDTO is the wire shape for one validation rule. Exactly one
// of the Kind-named payload fields should be set, matching Kind.
type ValidationRuleDTO struct {
	Kind     string  `json:"kind"`
	Weight   float64 `json:"weight"`
	Required bool    `json:"required"`

	Pattern  string `json:"pattern,omitempty"`  // regex
	DataType string `json:"data_type,omitempty"`
	Semantic string `json:"semantic,omitempty"`
}

// SelectorDTO is the wire shape for POST/PUT /api/v1/selectors[/:name] and
// the GET responses.
type SelectorDTO struct {
	Name                string              `json:"name"`
	TabContext          string              `json:"tab_context,omitempty"`
	Strategies          []StrategyDTO       `json:"strategies"`
	ValidationRules     []ValidationRuleDTO `json:"validation_rules,omitempty"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`

	RegisteredAt string `json:"registered_at,omitempty"`
	LastUpdated  string `json:"last_updated,omitempty"`
	UsageCount   int64  `json:"usage_count,omitempty"`
	LastUsed     string `json:"last_used,omitempty"`
}

// SelectorStatsResponse is the response for GET /api/v1/selectors/:name/stats.
type SelectorStatsResponse struct {
	Name                string          `json:"name"`
	UsageCount          int64           `json:"usage_count"`
	LastUsed            string          `json:"last_used,omitempty"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	Strategies          []StrategyDTO   `json:"strategies"`
	Rolling             RollingStatsDTO `json:"rolling"`
}

// RollingStatsDTO mirrors selector.Statistics over the in-memory result
// history kept for this selector.
type RollingStatsDTO struct {
	Count          int     `json:"count"`
	SuccessCount   int     `json:"success_count"`
	MeanConfidence float64 `json:"mean_confidence"`
	MinConfidence  float64 `json:"min_confidence"`
	MaxConfidence  float64 `json:"max_confidence"`
}

// ResolveAPIRequest is the request body for POST /api/v1/resolve.
type ResolveAPIRequest struct {
	SelectorName string `json:"selector_name" binding:"required"`
	URL          string `json:"url" binding:"required"`
	TabID        string `json:"tab_id,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Env          string `json:"env,omitempty"` // production|staging|development|testing
	StealthMode  bool   `json:"stealth_mode,omitempty"`
	// FastHTTP tries a Chrome-TLS-fingerprinted plain HTTP fetch before
	// paying for a browser render, falling back automatically when the
	// fetched markup looks JS-dependent.
	FastHTTP bool `json:"fast_http,omitempty"`
}

// ResolveBatchAPIRequest is the request body for POST /api/v1/resolve/batch.
type ResolveBatchAPIRequest struct {
	SelectorNames []string `json:"selector_names" binding:"required"`
	URL           string   `json:"url" binding:"required"`
	TabID         string   `json:"tab_id,omitempty"`
	JobID         string   `json:"job_id,omitempty"`
	Env           string   `json:"env,omitempty"`
	StealthMode   bool     `json:"stealth_mode,omitempty"`
	FastHTTP      bool     `json:"fast_http,omitempty"`
}

// ResultDTO is the wire shape for one selector.Result.
type ResultDTO struct {
	SelectorName     string         `json:"selector_name"`
	StrategyUsed     string         `json:"strategy_used,omitempty"`
	ConfidenceScore  float64        `json:"confidence_score"`
	ResolutionTimeMS int64          `json:"resolution_time_ms"`
	Success          bool           `json:"success"`
	Timestamp        string         `json:"timestamp"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	SnapshotID       string         `json:"snapshot_id,omitempty"`
	TabContext       string         `json:"tab_context,omitempty"`
	Element          *ElementInfoDTO `json:"element,omitempty"`
}

// ElementInfoDTO is the wire shape for the matched element, when present.
type ElementInfoDTO struct {
	Tag          string            `json:"tag"`
	Text         string            `json:"text"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Path         string            `json:"path,omitempty"`
	Visible      bool              `json:"visible"`
	Interactable bool              `json:"interactable"`
}

// ResolveAPIResponse is the response for POST /api/v1/resolve.
type ResolveAPIResponse struct {
	Success bool         `json:"success"`
	Result  *ResultDTO   `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ResolveBatchAPIResponse is the response for POST /api/v1/resolve/batch.
type ResolveBatchAPIResponse struct {
	Success bool         `json:"success"`
	Results []ResultDTO  `json:"results"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// JobProgressResponse is the response for GET /api/v1/jobs/:id/progress.
type JobProgressResponse struct {
	JobID      string             `json:"job_id"`
	State      string             `json:"state"`
	OverallPct float64            `json:"overall_pct"`
	Milestones []MilestoneDTO     `json:"milestones,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

type MilestoneDTO struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	PercentPct float64 `json:"percent_pct"`
}

// JobAbortRequest is the request body for POST /api/v1/jobs/:id/abort.
type JobAbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// JobAbortResponse is the response for POST /api/v1/jobs/:id/abort.
type JobAbortResponse struct {
	Success bool         `json:"success"`
	Action  string       `json:"action,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ExtendedHealthResponse is the response for GET /api/v1/health: pool
// utilisation plus the Browser Recovery manager's per-browser state
// (component R).
type ExtendedHealthResponse struct {
	Status         string             `json:"status"`
	Uptime         string             `json:"uptime"`
	PoolStats      PoolStats          `json:"pool_stats"`
	TabConcurrency TabConcurrencyDTO  `json:"tab_concurrency"`
	Version        string             `json:"version"`
	Browsers       []BrowserStatusDTO `json:"browsers,omitempty"`
}

// TabConcurrencyDTO reports the Tab Handler's (component Q) configured
// concurrency capacity. Active is always zero: the handler does not track
// tabs in flight.
type TabConcurrencyDTO struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
}

type BrowserStatusDTO struct {
	BrowserID        string `json:"browser_id"`
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	RecoveryAttempts int    `json:"recovery_attempts"`
}

// PoolStats summarizes the driver's browser-context page pool utilization
// for the health endpoint.
type PoolStats struct {
	ActivePages int `json:"active_pages"`
	MaxPages    int `json:"max_pages"`
}
