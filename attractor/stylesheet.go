// ABOUTME: CSS-like model stylesheet parser and applicator for assigning LLM properties to graph nodes.
// ABOUTME: Supports universal, shape, class, ID, and compound selectors with specificity-based resolution.
package attractor

import (
	"fmt"
	"strings"
	"unicode"
)

// Specificity weights per selector component. Summing components keeps
// id > class > shape > universal strict for any sane compound selector.
const (
	specUniversal = 0
	specShape     = 1
	specClass     = 10
	specID        = 100
)

// StyleRule represents a single CSS-like rule with a selector, properties, and specificity.
type StyleRule struct {
	Selector    string
	Properties  map[string]string
	Specificity int
}

// Stylesheet is a collection of style rules parsed from a CSS-like DSL.
type Stylesheet struct {
	Rules []StyleRule
}

// ParseStylesheet parses a CSS-like stylesheet string into a Stylesheet.
// Supported selectors, in increasing specificity:
//
//	*           universal
//	box         shape (matches the node's shape attribute)
//	.class      class
//	#id         node ID
//	box.fast    compound: every component must match; specificity adds up
func ParseStylesheet(input string) (*Stylesheet, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("empty stylesheet")
	}

	ss := &Stylesheet{}
	rest := trimmed

	for rest != "" {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			break
		}

		// Parse selector
		braceIdx := strings.Index(rest, "{")
		if braceIdx < 0 {
			return nil, fmt.Errorf("expected '{' in stylesheet")
		}
		selector := strings.TrimSpace(rest[:braceIdx])
		if selector == "" {
			return nil, fmt.Errorf("empty selector")
		}

		// Validate selector and compute specificity
		specificity, err := selectorSpecificity(selector)
		if err != nil {
			return nil, err
		}

		rest = rest[braceIdx+1:]

		// Parse properties until closing brace
		closeBraceIdx := strings.Index(rest, "}")
		if closeBraceIdx < 0 {
			return nil, fmt.Errorf("expected '}' to close rule for selector %q", selector)
		}
		propsStr := rest[:closeBraceIdx]
		rest = rest[closeBraceIdx+1:]

		props, err := parseProperties(propsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing properties for %q: %w", selector, err)
		}

		ss.Rules = append(ss.Rules, StyleRule{
			Selector:    selector,
			Properties:  props,
			Specificity: specificity,
		})
	}

	if len(ss.Rules) == 0 {
		return nil, fmt.Errorf("no rules found in stylesheet")
	}

	return ss, nil
}

// selectorComponent is one simple selector inside a possibly compound selector.
type selectorComponent struct {
	kind string // "universal", "shape", "class", "id"
	name string
}

// splitSelector breaks a selector into its components. Grammar:
// [shape|*] ('.'class | '#'id)*
func splitSelector(selector string) ([]selectorComponent, error) {
	var comps []selectorComponent
	rest := selector

	// Optional leading shape or universal component
	if rest != "" && rest[0] != '.' && rest[0] != '#' {
		end := strings.IndexAny(rest, ".#")
		head := rest
		if end >= 0 {
			head = rest[:end]
			rest = rest[end:]
		} else {
			rest = ""
		}
		if head == "*" {
			comps = append(comps, selectorComponent{kind: "universal"})
		} else if isValidIdentifier(head) {
			comps = append(comps, selectorComponent{kind: "shape", name: head})
		} else {
			return nil, fmt.Errorf("invalid selector %q: bad shape component %q", selector, head)
		}
	}

	for rest != "" {
		marker := rest[0]
		rest = rest[1:]
		end := strings.IndexAny(rest, ".#")
		name := rest
		if end >= 0 {
			name = rest[:end]
			rest = rest[end:]
		} else {
			rest = ""
		}
		if name == "" || !isValidIdentifier(name) {
			return nil, fmt.Errorf("invalid selector %q: bad component name %q", selector, name)
		}
		switch marker {
		case '.':
			comps = append(comps, selectorComponent{kind: "class", name: name})
		case '#':
			comps = append(comps, selectorComponent{kind: "id", name: name})
		}
	}

	if len(comps) == 0 {
		return nil, fmt.Errorf("invalid selector %q", selector)
	}
	return comps, nil
}

// selectorSpecificity returns the summed specificity for a selector and validates it.
func selectorSpecificity(selector string) (int, error) {
	comps, err := splitSelector(selector)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range comps {
		switch c.kind {
		case "universal":
			total += specUniversal
		case "shape":
			total += specShape
		case "class":
			total += specClass
		case "id":
			total += specID
		}
	}
	return total, nil
}

// isValidIdentifier checks if a string is a valid CSS-like identifier.
func isValidIdentifier(s string) bool {
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return len(s) > 0
}

// parseProperties parses semicolon-delimited "key: value;" property declarations.
func parseProperties(s string) (map[string]string, error) {
	props := make(map[string]string)
	parts := strings.Split(s, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		colonIdx := strings.Index(part, ":")
		if colonIdx < 0 {
			return nil, fmt.Errorf("expected ':' in property declaration %q", part)
		}
		key := strings.TrimSpace(part[:colonIdx])
		val := strings.TrimSpace(part[colonIdx+1:])
		if key == "" {
			return nil, fmt.Errorf("empty property name in %q", part)
		}
		props[key] = val
	}
	return props, nil
}

// Apply applies the stylesheet rules to all nodes in the graph.
// Higher specificity rules override lower ones. Explicit node attributes override all.
func (ss *Stylesheet) Apply(g *Graph) {
	for _, node := range g.Nodes {
		resolved := ss.MatchNode(node)
		for key, val := range resolved {
			// Explicit node attributes take precedence over stylesheet.
			if _, exists := node.Attrs[key]; !exists {
				node.Attrs[key] = val
			}
		}
	}
}

// MatchNode resolves all properties that apply to a node from the stylesheet
// rules. Higher specificity overrides lower; at equal specificity the later
// declaration wins.
func (ss *Stylesheet) MatchNode(node *Node) map[string]string {
	resolved := make(map[string]string)
	// Track the specificity that set each property.
	specMap := make(map[string]int)

	for _, rule := range ss.Rules {
		if !selectorMatches(rule.Selector, node) {
			continue
		}
		for key, val := range rule.Properties {
			prevSpec, exists := specMap[key]
			if !exists || rule.Specificity >= prevSpec {
				resolved[key] = val
				specMap[key] = rule.Specificity
			}
		}
	}

	return resolved
}

// selectorMatches checks whether a selector (simple or compound) matches a node.
// Every component of a compound selector must match.
func selectorMatches(selector string, node *Node) bool {
	comps, err := splitSelector(selector)
	if err != nil {
		return false
	}
	for _, c := range comps {
		switch c.kind {
		case "universal":
			// always matches
		case "shape":
			if node.Shape() != c.name {
				return false
			}
		case "id":
			if node.ID != c.name {
				return false
			}
		case "class":
			if !nodeHasClass(node, c.name) {
				return false
			}
		}
	}
	return true
}

// nodeHasClass reports whether the node's class attribute contains the given
// class. Classes may be comma- or whitespace-separated.
func nodeHasClass(node *Node, className string) bool {
	nodeClass := node.Attrs["class"]
	if nodeClass == "" {
		return false
	}
	classes := strings.FieldsFunc(nodeClass, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	for _, c := range classes {
		if c == className {
			return true
		}
	}
	return false
}
