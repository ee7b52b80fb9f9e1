// ABOUTME: Condition expression language for edge guards in the pipeline graph.
// ABOUTME: Evaluates clauses like "outcome = success && context.mode = prod" against Outcome and Context.
package attractor

import (
	"fmt"
	"regexp"
	"strings"
)

// EvaluateCondition evaluates a condition expression against an outcome and context.
// Condition grammar: Clause ('&&' Clause)*
// Clause: Key Operator Literal
// Key: 'outcome' | 'preferred_label' | 'context.' Path | bare identifier
// Operator: '=' | '!=' | '~' (regex match)
// An empty or whitespace-only condition evaluates to true (unconditional edge).
// A clause referencing a context key that was never set evaluates to false
// regardless of operator. Comparisons against the outcome key are
// case-insensitive since status names carry no case significance.
func EvaluateCondition(condition string, outcome *Outcome, ctx *Context) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}

	clauses := strings.Split(trimmed, "&&")
	for _, clause := range clauses {
		if !evaluateClause(strings.TrimSpace(clause), outcome, ctx) {
			return false
		}
	}
	return true
}

// evaluateClause evaluates a single "key op literal" clause. Operator
// detection order is != then ~ then =, mirroring the validator's grammar.
func evaluateClause(clause string, outcome *Outcome, ctx *Context) bool {
	if idx := strings.Index(clause, "!="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+2:])
		resolved, found := resolveKey(key, outcome, ctx)
		if !found {
			return false
		}
		if key == "outcome" {
			return !strings.EqualFold(resolved, literal)
		}
		return resolved != literal
	}

	if idx := strings.Index(clause, "~"); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		pattern := strings.TrimSpace(clause[idx+1:])
		resolved, found := resolveKey(key, outcome, ctx)
		if !found {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(resolved)
	}

	if idx := strings.Index(clause, "="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+1:])
		resolved, found := resolveKey(key, outcome, ctx)
		if !found {
			return false
		}
		if key == "outcome" {
			return strings.EqualFold(resolved, literal)
		}
		return resolved == literal
	}

	// No operator found -- clause is malformed, treat as false
	return false
}

// resolveKey resolves a key to its string value from outcome or context.
// "outcome" -> outcome.Status
// "preferred_label" -> outcome.PreferredLabel
// "context.X" -> ctx value at "context.X" with fallback to "X"
// bare key -> ctx value at key
// The boolean reports whether the key exists at all. Non-string context
// values are formatted with %v so numeric comparisons like "attempt = 3" work.
func resolveKey(key string, outcome *Outcome, ctx *Context) (string, bool) {
	switch key {
	case "outcome":
		return string(outcome.Status), true
	case "preferred_label":
		return outcome.PreferredLabel, true
	default:
		lookup := key
		if strings.HasPrefix(key, "context.") {
			// Try the full key first, then the part after "context."
			if v := ctx.Get(key); v != nil {
				return stringifyValue(v), true
			}
			lookup = key[len("context."):]
		}
		v := ctx.Get(lookup)
		if v == nil {
			return "", false
		}
		return stringifyValue(v), true
	}
}

func stringifyValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ValidateConditionSyntax checks whether a condition string is syntactically valid.
// Returns true if the condition can be parsed, false otherwise.
func ValidateConditionSyntax(condition string) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}

	clauses := strings.Split(trimmed, "&&")
	for _, clause := range clauses {
		c := strings.TrimSpace(clause)
		if c == "" {
			return false
		}

		if idx := strings.Index(c, "!="); idx >= 0 {
			if strings.TrimSpace(c[:idx]) == "" || strings.TrimSpace(c[idx+2:]) == "" {
				return false
			}
			continue
		}

		if idx := strings.Index(c, "~"); idx >= 0 {
			key := strings.TrimSpace(c[:idx])
			pattern := strings.TrimSpace(c[idx+1:])
			if key == "" || pattern == "" {
				return false
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return false
			}
			continue
		}

		if idx := strings.Index(c, "="); idx >= 0 {
			if strings.TrimSpace(c[:idx]) == "" || strings.TrimSpace(c[idx+1:]) == "" {
				return false
			}
			continue
		}

		return false
	}
	return true
}
