// Package rules implements optional operator policy that overrides the
// dispatcher's normal local -> cached -> upstream classification: a
// small set of boolean expressions evaluated against per-query facts,
// grounded on mosdns's query_matcher/response_matcher plugins
// but expressed as govaluate expressions instead of a plugin chain.
package rules

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
)

// Action is what a matched rule instructs the dispatcher to do instead
// of its normal classification.
type Action int

const (
	// ActionNone means the rule matched but has no override (unused by
	// the config loader today; reserved for future audit-only rules).
	ActionNone Action = iota
	// ActionLocal forces the reply to LocalIP without touching the cache.
	ActionLocal
	// ActionServFail short-circuits straight to a SERVFAIL reply.
	ActionServFail
)

// Rule is one compiled operator policy entry.
type Rule struct {
	Expr     string
	Action   Action
	LocalIP  netip.Addr // only meaningful when Action == ActionLocal
	compiled *govaluate.EvaluableExpression
}

// Engine holds a compiled, ordered list of rules. The first matching
// rule wins; an empty Engine (no rules configured) never overrides
// anything, so the dispatcher's spec.md-mandated behavior is unchanged
// by default.
type Engine struct {
	rules []*Rule
}

// functions exposes helpers operator expressions can call. govaluate
// has no global function registry, so every compiled expression is
// handed the same map at compile time.
var functions = map[string]govaluate.ExpressionFunction{
	"MatchSuffix": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("MatchSuffix expects 2 arguments")
		}
		domain, _ := args[0].(string)
		suffix, _ := args[1].(string)
		return strings.HasSuffix(strings.ToLower(domain), strings.ToLower(suffix)), nil
	},
}

// Compile parses and compiles every rule's expression up front so a
// malformed operator policy fails at config-load time, not per-query.
func Compile(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]*Rule, 0, len(rules))}
	for i := range rules {
		r := rules[i]
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(r.Expr, functions)
		if err != nil {
			return nil, fmt.Errorf("rules: compiling %q: %w", r.Expr, err)
		}
		r.compiled = expr
		e.rules = append(e.rules, &r)
	}
	return e, nil
}

// Facts is the per-query evaluation context exposed to expressions as
// Domain, ClientIP, and Hour.
type Facts struct {
	Domain   string
	ClientIP netip.Addr
	Hour     int
}

func (f Facts) parameters() govaluate.Parameters {
	return govaluate.MapParameters(map[string]interface{}{
		"Domain":   f.Domain,
		"ClientIP": f.ClientIP.String(),
		"Hour":     f.Hour,
	})
}

// Evaluate returns the first matching rule, or nil if none match or no
// rules are configured.
func (e *Engine) Evaluate(f Facts) (*Rule, error) {
	if e == nil {
		return nil, nil
	}
	params := f.parameters()
	for _, r := range e.rules {
		v, err := r.compiled.Eval(params)
		if err != nil {
			return nil, fmt.Errorf("rules: evaluating %q: %w", r.Expr, err)
		}
		matched, ok := v.(bool)
		if ok && matched {
			return r, nil
		}
	}
	return nil, nil
}

// HourOf is a small helper kept alongside the engine because operator
// rules commonly need to reason about "business hours" in Facts.Hour
// without pulling in a full scheduling library.
func HourOf(t time.Time) int { return t.Hour() }
