package handler

import (
	"time"

	"github.com/use-agent/resolveguard/models"
	"github.com/use-agent/resolveguard/resolveerr"
	"github.com/use-agent/resolveguard/selector"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// selectorFromDTO converts the wire shape into the domain type, rejecting
// any strategy/rule whose Kind doesn't match one of the tagged-variant arms
// (selector.Registry.Register/Update separately re-validates shape).
func selectorFromDTO(dto models.SelectorDTO) (*selector.SemanticSelector, error) {
	strategies := make([]*selector.Strategy, 0, len(dto.Strategies))
	for _, s := range dto.Strategies {
		cfg, err := strategyConfigFromDTO(s)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, &selector.Strategy{Priority: s.Priority, Config: cfg})
	}

	rules := make([]selector.ValidationRule, 0, len(dto.ValidationRules))
	for _, rdto := range dto.ValidationRules {
		rule, err := validationRuleFromDTO(rdto)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &selector.SemanticSelector{
		Name:                dto.Name,
		TabContext:          dto.TabContext,
		Strategies:          strategies,
		ValidationRules:     rules,
		ConfidenceThreshold: dto.ConfidenceThreshold,
	}, nil
}

func strategyConfigFromDTO(s models.StrategyDTO) (selector.StrategyConfig, error) {
	switch s.Kind {
	case "text_anchor":
		if s.TextAnchor == nil {
			return nil, errBadStrategy(s.Kind)
		}
		return selector.TextAnchorConfig{
			AnchorText:        s.TextAnchor.AnchorText,
			ProximitySelector: s.TextAnchor.ProximitySelector,
			CaseSensitive:     s.TextAnchor.CaseSensitive,
		}, nil
	case "attribute_match":
		if s.AttributeMatch == nil {
			return nil, errBadStrategy(s.Kind)
		}
		return selector.AttributeMatchConfig{
			Attribute:    s.AttributeMatch.Attribute,
			ValuePattern: s.AttributeMatch.ValuePattern,
			Tag:          s.AttributeMatch.Tag,
		}, nil
	case "dom_relationship":
		if s.DOMRelationship == nil {
			return nil, errBadStrategy(s.Kind)
		}
		return selector.DOMRelationshipConfig{
			ParentSelector: s.DOMRelationship.ParentSelector,
			Relationship:   selector.RelationshipKind(s.DOMRelationship.Relationship),
			Index:          s.DOMRelationship.Index,
		}, nil
	case "role_based":
		if s.RoleBased == nil {
			return nil, errBadStrategy(s.Kind)
		}
		return selector.RoleBasedConfig{
			Role:           s.RoleBased.Role,
			AccessibleName: s.RoleBased.AccessibleName,
		}, nil
	default:
		return nil, errBadStrategy(s.Kind)
	}
}

func validationRuleFromDTO(r models.ValidationRuleDTO) (selector.ValidationRule, error) {
	switch r.Kind {
	case "regex":
		return selector.NewRegexRule(r.Pattern, r.Weight, r.Required), nil
	case "data_type":
		return selector.NewDataTypeRule(selector.DataType(r.DataType), r.Weight, r.Required), nil
	case "semantic":
		return selector.NewSemanticRule(selector.SemanticKind(r.Semantic), r.Weight, r.Required), nil
	default:
		return nil, errBadRule(r.Kind)
	}
}

func errBadStrategy(kind string) error {
	return resolveerr.ContextValidation("", "unknown or incomplete strategy kind: "+kind)
}

func errBadRule(kind string) error {
	return resolveerr.ContextValidation("", "unknown validation rule kind: "+kind)
}

// selectorToDTO converts the domain type back to its wire shape.
func selectorToDTO(s *selector.SemanticSelector) models.SelectorDTO {
	strategies := make([]models.StrategyDTO, 0, len(s.Strategies))
	for _, strat := range s.Strategies {
		strategies = append(strategies, strategyToDTO(strat))
	}
	rules := make([]models.ValidationRuleDTO, 0, len(s.ValidationRules))
	for _, r := range s.ValidationRules {
		rules = append(rules, validationRuleToDTO(r))
	}
	return models.SelectorDTO{
		Name:                s.Name,
		TabContext:          s.TabContext,
		Strategies:          strategies,
		ValidationRules:     rules,
		ConfidenceThreshold: s.ConfidenceThreshold,
		RegisteredAt:        formatTime(s.RegisteredAt),
		LastUpdated:         formatTime(s.LastUpdated),
		UsageCount:          s.UsageCount,
		LastUsed:            formatTime(s.LastUsed),
	}
}

func strategyToDTO(s *selector.Strategy) models.StrategyDTO {
	dto := models.StrategyDTO{
		Priority:    s.Priority,
		Kind:        s.Config.Kind(),
		Attempts:    s.Attempts,
		Successes:   s.Successes,
		SuccessRate: s.SuccessRate(),
	}
	switch cfg := s.Config.(type) {
	case selector.TextAnchorConfig:
		dto.TextAnchor = &models.TextAnchorDTO{AnchorText: cfg.AnchorText, ProximitySelector: cfg.ProximitySelector, CaseSensitive: cfg.CaseSensitive}
	case selector.AttributeMatchConfig:
		dto.AttributeMatch = &models.AttributeMatchDTO{Attribute: cfg.Attribute, ValuePattern: cfg.ValuePattern, Tag: cfg.Tag}
	case selector.DOMRelationshipConfig:
		dto.DOMRelationship = &models.DOMRelationshipDTO{ParentSelector: cfg.ParentSelector, Relationship: string(cfg.Relationship), Index: cfg.Index}
	case selector.RoleBasedConfig:
		dto.RoleBased = &models.RoleBasedDTO{Role: cfg.Role, AccessibleName: cfg.AccessibleName}
	}
	return dto
}

func validationRuleToDTO(r selector.ValidationRule) models.ValidationRuleDTO {
	dto := models.ValidationRuleDTO{Kind: r.RuleType(), Weight: r.Weight(), Required: r.Required()}
	switch rule := r.(type) {
	case selector.RegexRule:
		dto.Pattern = rule.Pattern
	case selector.DataTypeRule:
		dto.DataType = string(rule.Type)
	case selector.SemanticRule:
		dto.Semantic = string(rule.Kind)
	}
	return dto
}

// resultToDTO converts a selector.Result to its wire shape.
func resultToDTO(res *selector.Result) models.ResultDTO {
	dto := models.ResultDTO{
		SelectorName:     res.SelectorName,
		StrategyUsed:     res.StrategyUsed,
		ConfidenceScore:  res.ConfidenceScore,
		ResolutionTimeMS: res.ResolutionTimeMS,
		Success:          res.Success,
		Timestamp:        formatTime(res.Timestamp),
		FailureReason:    res.FailureReason,
		SnapshotID:       res.SnapshotID,
		TabContext:       res.TabContext,
	}
	if res.Element != nil {
		dto.Element = &models.ElementInfoDTO{
			Tag:          res.Element.Tag,
			Text:         res.Element.Text,
			Attributes:   res.Element.Attributes,
			Path:         res.Element.Path,
			Visible:      res.Element.Visible,
			Interactable: res.Element.Interactable,
		}
	}
	return dto
}
