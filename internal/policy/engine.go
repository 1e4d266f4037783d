package policy

import (
	"log/slog"
	"sync"
)

// Checker is a predicate evaluated alongside static rules, for decisions
// that cannot be expressed as a pattern (e.g. sandboxing requirements that
// depend on runtime context). A checker that returns ok overrides whatever
// the static rules decided.
type Checker interface {
	// Name identifies the checker in audit output.
	Name() string

	// Check returns a decision and true when the checker wants to rule on
	// this call, or false to abstain.
	Check(toolName string, args map[string]any) (Decision, bool)
}

// Verdict is the outcome of one engine consultation, including provenance
// for audit logging.
type Verdict struct {
	Decision Decision

	// Source names the winning rule's provenance, or the checker that
	// overrode it, or "default" when nothing matched.
	Source string
}

// Engine evaluates tool calls against an ordered rule set. The rule list is
// read concurrently by any number of Check calls and appended to by the
// dynamic-rule path; no rule is ever mutated in place.
type Engine struct {
	mu       sync.RWMutex
	static   []Rule
	dynamic  []Rule
	checkers []Checker

	defaultDecision Decision
	log             *slog.Logger
}

// NewEngine creates an engine with the given static rules. defaultDecision
// applies when no rule matches; AskUser is the conventional choice.
func NewEngine(rules []Rule, defaultDecision Decision, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		static:          append([]Rule(nil), rules...),
		defaultDecision: defaultDecision,
		log:             log,
	}
}

// AddChecker registers a predicate checker. Not safe to call concurrently
// with Check; register checkers at wiring time.
func (e *Engine) AddChecker(c Checker) {
	e.checkers = append(e.checkers, c)
}

// AddDynamicRule appends a runtime rule, typically a session "always allow"
// grant. Dynamic rules survive ReplaceRules.
func (e *Engine) AddDynamicRule(r Rule) {
	e.mu.Lock()
	e.dynamic = append(e.dynamic, r)
	e.mu.Unlock()
	e.log.Debug("dynamic policy rule added",
		"tool", r.ToolName, "decision", string(r.Decision), "source", r.Source)
}

// ReplaceRules swaps the full static rule set, preserving dynamic session
// rules. Used for periodic reloads from files.
func (e *Engine) ReplaceRules(rules []Rule) {
	e.mu.Lock()
	e.static = append([]Rule(nil), rules...)
	e.mu.Unlock()
}

// Rules returns a copy of the active rule set, static first then dynamic.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.static)+len(e.dynamic))
	out = append(out, e.static...)
	out = append(out, e.dynamic...)
	return out
}

// Check evaluates a tool call. Among all matching rules the one with the
// numerically highest priority wins; on exactly equal priority the most
// recently added rule wins (dynamic rules are scanned after static ones, so
// a fresh session grant beats an equal-priority file rule).
func (e *Engine) Check(toolName string, args map[string]any) Verdict {
	canonical := CanonicalArgs(args)

	e.mu.RLock()
	var (
		best      *Rule
		bestScore float64
	)
	for i := range e.static {
		r := &e.static[i]
		if r.Matches(toolName, canonical) && (best == nil || r.Priority >= bestScore) {
			best, bestScore = r, r.Priority
		}
	}
	for i := range e.dynamic {
		r := &e.dynamic[i]
		if r.Matches(toolName, canonical) && (best == nil || r.Priority >= bestScore) {
			best, bestScore = r, r.Priority
		}
	}
	verdict := Verdict{Decision: e.defaultDecision, Source: "default"}
	if best != nil {
		verdict = Verdict{Decision: best.Decision, Source: best.Source}
	}
	e.mu.RUnlock()

	for _, c := range e.checkers {
		if d, ok := c.Check(toolName, args); ok {
			verdict = Verdict{Decision: d, Source: "checker:" + c.Name()}
		}
	}
	return verdict
}
