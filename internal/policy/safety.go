package policy

import (
	"fmt"
	"regexp/syntax"
)

// maxPatternLength bounds user-supplied argument patterns. Anything longer
// is almost certainly a mistake and gets rejected up front.
const maxPatternLength = 1000

// ValidatePattern checks an argument regex for safety before it is accepted
// into the rule set. Go's RE2 engine cannot backtrack catastrophically, but
// nested or enormous repetitions can still consume unbounded memory while
// matching, so those are rejected with an error surfaced to the operator
// rather than silently ignored.
func ValidatePattern(expr string) error {
	if len(expr) > maxPatternLength {
		return fmt.Errorf("pattern exceeds %d characters", maxPatternLength)
	}
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if depth := repeatDepth(re); depth > 1 {
		return fmt.Errorf("pattern nests repetition operators %d deep", depth)
	}
	return nil
}

// repeatDepth returns the deepest nesting of repetition operators (*, +, ?,
// {m,n}) in the parsed expression.
func repeatDepth(re *syntax.Regexp) int {
	depth := 0
	for _, sub := range re.Sub {
		if d := repeatDepth(sub); d > depth {
			depth = d
		}
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		depth++
	}
	return depth
}
