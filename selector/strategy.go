package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Document is the parsed page the strategies query against. The resolver
// builds one per resolution from the browser driver's Content() output (or
// reuses a cached one across strategies within the same resolve call).
type Document struct {
	Root  *html.Node
	GQ    *goquery.Document
	Scope *html.Node // non-nil when a tab_context restricts queries
}

// NewDocument parses raw HTML into a queryable Document.
func NewDocument(rawHTML string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	gq := goquery.NewDocumentFromNode(root)
	return &Document{Root: root, GQ: gq}, nil
}

// searchRoot returns the scope root if a tab_context restricted it,
// otherwise the document root.
func (d *Document) searchRoot() *html.Node {
	if d.Scope != nil {
		return d.Scope
	}
	return d.Root
}

// attemptOutcome is the partial SelectorResult a strategy produces before
// validation folding; strategies return this rather than raising for
// control flow, per the result-type re-architecture note.
type attemptOutcome struct {
	Element    *ElementInfo
	RawScore   float64 // strategy-local confidence signal, pre-scorer
	Found      bool
	Err        error
}

// attempt dispatches to the concrete strategy implementation based on the
// tagged StrategyConfig variant.
func attempt(cfg StrategyConfig, doc *Document) attemptOutcome {
	switch c := cfg.(type) {
	case TextAnchorConfig:
		return attemptTextAnchor(c, doc)
	case AttributeMatchConfig:
		return attemptAttributeMatch(c, doc)
	case DOMRelationshipConfig:
		return attemptDOMRelationship(c, doc)
	case RoleBasedConfig:
		return attemptRoleBased(c, doc)
	default:
		return attemptOutcome{Err: fmt.Errorf("unrecognized strategy config %T", cfg)}
	}
}

func attemptTextAnchor(c TextAnchorConfig, doc *Document) attemptOutcome {
	root := doc.searchRoot()
	if c.ProximitySelector != "" {
		sel, err := cascadia.Parse(c.ProximitySelector)
		if err != nil {
			return attemptOutcome{Err: fmt.Errorf("invalid proximity_selector: %w", err)}
		}
		scopeNode := cascadia.Query(root, sel)
		if scopeNode == nil {
			return attemptOutcome{Found: false}
		}
		root = scopeNode
	}

	want := normalizeText(c.AnchorText)
	if !c.CaseSensitive {
		want = strings.ToLower(want)
	}

	var best *html.Node
	var bestExact bool
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		text := normalizeText(textContent(n))
		if text == "" {
			return true
		}
		compare := text
		if !c.CaseSensitive {
			compare = strings.ToLower(compare)
		}
		if compare == want {
			best = n
			bestExact = true
			return false // stop: exact match found
		}
		if strings.Contains(compare, want) && best == nil {
			best = n
		}
		return true
	})

	if best == nil {
		return attemptOutcome{Found: false}
	}
	score := 0.6
	if bestExact {
		score = 0.95
	}
	return attemptOutcome{Element: elementInfoFor(best, doc.Root), RawScore: score, Found: true}
}

func attemptAttributeMatch(c AttributeMatchConfig, doc *Document) attemptOutcome {
	re, err := regexp.Compile(c.ValuePattern)
	if err != nil {
		return attemptOutcome{Err: fmt.Errorf("invalid value_pattern: %w", err)}
	}

	root := doc.searchRoot()
	var best *html.Node
	var bestFullMatch bool
	var bestSpecificity int

	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if c.Tag != "" && !strings.EqualFold(n.Data, c.Tag) {
			return true
		}
		val, ok := attrValue(n, c.Attribute)
		if !ok {
			return true
		}
		loc := re.FindString(val)
		if loc == "" {
			return true
		}
		fullMatch := loc == val
		specificity := attributeSpecificity(c.Attribute)

		if best == nil || (fullMatch && !bestFullMatch) || (fullMatch == bestFullMatch && specificity > bestSpecificity) {
			best = n
			bestFullMatch = fullMatch
			bestSpecificity = specificity
		}
		return true
	})

	if best == nil {
		return attemptOutcome{Found: false}
	}
	score := 0.55
	if bestFullMatch {
		score += 0.2
	}
	score += float64(bestSpecificity) * 0.05
	if score > 1 {
		score = 1
	}
	return attemptOutcome{Element: elementInfoFor(best, doc.Root), RawScore: score, Found: true}
}

// attributeSpecificity ranks id > data-* > class > everything else, per
// the strategy's contract ("more-specific attributes").
func attributeSpecificity(attr string) int {
	switch {
	case attr == "id":
		return 3
	case strings.HasPrefix(attr, "data-"):
		return 2
	case attr == "class":
		return 1
	default:
		return 0
	}
}

func attemptDOMRelationship(c DOMRelationshipConfig, doc *Document) attemptOutcome {
	sel, err := cascadia.Parse(c.ParentSelector)
	if err != nil {
		return attemptOutcome{Err: fmt.Errorf("invalid parent_selector: %w", err)}
	}
	parent := cascadia.Query(doc.searchRoot(), sel)
	if parent == nil {
		return attemptOutcome{Found: false}
	}

	var target *html.Node
	depth := 1

	switch c.Relationship {
	case RelationChild:
		children := elementChildren(parent)
		if c.Index < 0 || c.Index >= len(children) {
			return attemptOutcome{Found: false}
		}
		target = children[c.Index]
	case RelationDescendantFirstKind:
		walk(parent, func(n *html.Node) bool {
			if n == parent {
				return true
			}
			if n.Type == html.ElementNode && target == nil {
				target = n
				return false
			}
			return true
		})
	case RelationSibling:
		for sib := parent.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode {
				target = sib
				break
			}
		}
	default:
		return attemptOutcome{Err: fmt.Errorf("unrecognized relationship %q", c.Relationship)}
	}

	if target == nil {
		return attemptOutcome{Found: false}
	}

	score := 0.8 - 0.1*float64(depth-1)
	if c.Relationship == RelationChild {
		score -= 0.1 // positional nth-child use, per the confidence heuristic
	}
	if score < 0.3 {
		score = 0.3
	}
	return attemptOutcome{Element: elementInfoFor(target, doc.Root), RawScore: score, Found: true}
}

func attemptRoleBased(c RoleBasedConfig, doc *Document) attemptOutcome {
	var best *html.Node
	walk(doc.searchRoot(), func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		role, ok := attrValue(n, "role")
		if !ok || !strings.EqualFold(role, c.Role) {
			return true
		}
		if c.AccessibleName != "" {
			name, _ := attrValue(n, "aria-label")
			if !strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(c.AccessibleName)) {
				return true
			}
		}
		best = n
		return false
	})

	if best == nil {
		return attemptOutcome{Found: false}
	}
	score := 0.7
	if _, ok := attrValue(best, "aria-label"); ok {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return attemptOutcome{Element: elementInfoFor(best, doc.Root), RawScore: score, Found: true}
}

// --- DOM helpers shared by the four strategies ---

func walk(n *html.Node, visit func(*html.Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// elementInfoFor builds an ElementInfo snapshot for n, computing its path
// string (used by the position-stability heuristic) relative to root.
func elementInfoFor(n *html.Node, root *html.Node) *ElementInfo {
	attrs := make(map[string]string, len(n.Attr))
	classes := make(map[string]struct{})
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				classes[c] = struct{}{}
			}
		}
	}

	hidden := false
	if style, ok := attrs["style"]; ok && strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
		hidden = true
	}
	if _, ok := attrs["hidden"]; ok {
		hidden = true
	}
	_, disabled := attrs["disabled"]

	return &ElementInfo{
		Tag:          n.Data,
		Text:         normalizeText(textContent(n)),
		Attributes:   attrs,
		Classes:      classes,
		Path:         pathFor(n, root),
		Visible:      !hidden,
		Interactable: !hidden && !disabled,
	}
}

// pathFor renders a coarse CSS-like path from root to n, good enough for
// the position-stability heuristic ("+0.3 if id=", "nested div count",
// ":nth-child count").
func pathFor(n *html.Node, root *html.Node) string {
	var segs []string
	for cur := n; cur != nil && cur != root; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		seg := cur.Data
		if id, ok := attrValue(cur, "id"); ok && id != "" {
			seg += fmt.Sprintf("[id=%s]", id)
		} else if idx := nthChildIndex(cur); idx > 0 {
			seg += fmt.Sprintf(":nth-child(%d)", idx)
		}
		segs = append([]string{seg}, segs...)
	}
	return strings.Join(segs, " > ")
}

func nthChildIndex(n *html.Node) int {
	i := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode {
			i++
		}
	}
	return i
}
