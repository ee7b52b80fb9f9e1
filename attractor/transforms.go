// ABOUTME: AST transforms applied between parsing and validation for the pipeline graph.
// ABOUTME: Implements variable expansion ($goal) and stylesheet application as a transform chain.
package attractor

import (
	"regexp"
)

// Transform is the interface for AST transformations applied to a parsed graph.
type Transform interface {
	Apply(g *Graph) *Graph
}

// ApplyTransforms applies a sequence of transforms to a graph, returning the final result.
func ApplyTransforms(g *Graph, transforms ...Transform) *Graph {
	result := g
	for _, t := range transforms {
		result = t.Apply(result)
	}
	return result
}

// DefaultTransforms returns the standard ordered transform chain. Variable
// expansion runs before stylesheet application so class selectors see the
// final attribute values. Sub-pipeline nodes are not inlined here; they are
// executed at run time by their handler.
func DefaultTransforms() []Transform {
	return []Transform{
		&VariableExpansionTransform{},
		&StylesheetApplicationTransform{},
	}
}

// variableToken matches $name references: a dollar sign followed by an
// identifier. A lone "$" or "$123" is left untouched.
var variableToken = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// VariableExpansionTransform expands $variable references in node attributes
// using graph-level attribute values. References to keys the graph does not
// define are left literal so they can still be resolved against the run-time
// context.
type VariableExpansionTransform struct{}

// Apply expands $variable references in every node attribute.
func (t *VariableExpansionTransform) Apply(g *Graph) *Graph {
	for _, node := range g.Nodes {
		for key, val := range node.Attrs {
			node.Attrs[key] = ExpandVariables(val, g.Attrs)
		}
	}
	return g
}

// ExpandVariables replaces $key tokens with values from the vars map.
// Tokens whose key is absent stay literal.
func ExpandVariables(s string, vars map[string]string) string {
	if vars == nil {
		return s
	}
	return variableToken.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1:]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}

// ExpandContextVariables replaces $key tokens using run-time context lookup.
// A missing key leaves the token literal.
func ExpandContextVariables(s string, pctx *Context) string {
	if pctx == nil {
		return s
	}
	return variableToken.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1:]
		if v := pctx.Get(key); v != nil {
			return stringifyValue(v)
		}
		return match
	})
}

// StylesheetApplicationTransform applies the model_stylesheet graph attribute
// to all nodes using CSS-like specificity rules.
type StylesheetApplicationTransform struct{}

// Apply parses and applies the model_stylesheet from graph attributes.
// An invalid stylesheet is skipped here; the validator reports it.
func (t *StylesheetApplicationTransform) Apply(g *Graph) *Graph {
	ssText, ok := g.Attrs["model_stylesheet"]
	if !ok || ssText == "" {
		return g
	}

	ss, err := ParseStylesheet(ssText)
	if err != nil {
		return g
	}

	ss.Apply(g)
	return g
}
