package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EvaluateRule evaluates a single rule against an element, returning its
// ValidationResult. Unknown rule types (reached only via a misbehaving
// caller outside the tagged variant, e.g. a zero-value interface) produce
// passed=false with a diagnostic message.
func EvaluateRule(rule ValidationRule, el *ElementInfo) ValidationResult {
	text := strings.TrimSpace(el.Text)

	switch r := rule.(type) {
	case RegexRule:
		return evalRegex(r, text)
	case DataTypeRule:
		return evalDataType(r, text)
	case SemanticRule:
		return evalSemantic(r, text)
	case CustomRule:
		return evalCustom(r, text)
	default:
		w := 0.0
		if rule != nil {
			w = rule.Weight()
		}
		return ValidationResult{
			RuleType: "unknown",
			Passed:   false,
			Score:    0,
			Weight:   w,
			Message:  fmt.Sprintf("unrecognized validation rule type %T", rule),
		}
	}
}

func evalRegex(r RegexRule, text string) ValidationResult {
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return ValidationResult{RuleType: "regex", Passed: false, Weight: r.Weight(), Message: "invalid pattern: " + err.Error()}
	}
	loc := re.FindString(text)
	passed := loc == text && text != ""
	score := 0.0
	if passed {
		score = 1.0
	}
	return ValidationResult{RuleType: "regex", Passed: passed, Score: score, Weight: r.Weight(), Message: msgFor("regex", passed)}
}

func evalDataType(r DataTypeRule, text string) ValidationResult {
	var passed bool
	switch r.Type {
	case DataTypeFloat:
		_, err := strconv.ParseFloat(text, 64)
		passed = err == nil
	case DataTypeInt:
		_, err := strconv.Atoi(text)
		passed = err == nil
	case DataTypeBoolean:
		switch strings.ToLower(text) {
		case "true", "false", "yes", "no", "0", "1":
			passed = true
		}
	case DataTypeString:
		passed = text != ""
	}
	score := 0.0
	if passed {
		score = 1.0
	}
	return ValidationResult{RuleType: "data_type", Passed: passed, Score: score, Weight: r.Weight(), Message: msgFor(string(r.Type), passed)}
}

var (
	scoreRe    = regexp.MustCompile(`^\d{1,3}$`)
	oddsRe     = regexp.MustCompile(`^(\d+(\.\d+)?|\d+/\d+)$`)
	teamNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z '\-]{1,49}$`)
)

func evalSemantic(r SemanticRule, text string) ValidationResult {
	var passed bool
	switch r.Kind {
	case SemanticScore:
		passed = scoreRe.MatchString(text)
	case SemanticOdds:
		passed = oddsRe.MatchString(text)
	case SemanticTeamName:
		passed = teamNameRe.MatchString(text) && len(text) >= 2 && len(text) <= 50
	case SemanticTime, SemanticDate:
		// conservative: require at least one digit and one separator typical
		// of clock/date strings (":" or "-" or "/").
		passed = strings.ContainsAny(text, ":-/") && strings.ContainsAny(text, "0123456789")
	}
	score := 0.0
	if passed {
		score = 1.0
	}
	return ValidationResult{RuleType: "semantic", Passed: passed, Score: score, Weight: r.Weight(), Message: msgFor(string(r.Kind), passed)}
}

func evalCustom(r CustomRule, text string) ValidationResult {
	score, message := r.Check(text)
	return ValidationResult{RuleType: "custom", Passed: score >= 0.5, Score: score, Weight: r.Weight(), Message: message}
}

func msgFor(label string, passed bool) string {
	if passed {
		return label + " rule passed"
	}
	return label + " rule failed"
}

// EvaluateAll runs every rule against el and returns the full slice of
// per-rule results, in rule order.
func EvaluateAll(rules []ValidationRule, el *ElementInfo) []ValidationResult {
	results := make([]ValidationResult, 0, len(rules))
	for _, r := range rules {
		results = append(results, EvaluateRule(r, el))
	}
	return results
}
