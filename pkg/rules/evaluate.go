package rules

import "strings"

// EvalContext carries the caller identity and the access kind requested,
// used to resolve auth.uid params and to decide whether a grant satisfies
// the request.
type EvalContext struct {
	UID     string
	HasUID  bool
	IsAdmin bool
	Wants   Mode
}

// HasPerms evaluates rules against path and ctx using first-match-wins
// over rules, then first-match-wins over prereqs within the matching
// rule, mirroring an ordered ACL scan: stop as soon as a decision is
// reached rather than accumulating bits across the whole list.
func HasPerms(rules []Rule, path string, ctx EvalContext) bool {
	if ctx.IsAdmin {
		return true
	}
	segs := strings.Split(path, "/")

	for _, rule := range rules {
		bindings, ok := matchPattern(rule.pattern, segs)
		if !ok {
			continue
		}
		if decided, granted := evalPrereqs(rule.Prereqs, bindings, ctx); decided {
			if granted {
				return true
			}
			continue // this rule's first satisfied prereq didn't cover wants
		}
	}
	return false
}

// matchPattern reports whether segs satisfies pattern: segs must be at
// least as long as pattern, and every literal segment of pattern must
// equal the corresponding path segment. Trailing extra segments are
// allowed. Variable segments bind to the corresponding path segment.
func matchPattern(pattern []pathSegment, segs []string) (map[string]string, bool) {
	if len(segs) < len(pattern) {
		return nil, false
	}
	bindings := make(map[string]string, len(pattern))
	for i, seg := range pattern {
		if seg.isVar {
			bindings[seg.varName] = segs[i]
			continue
		}
		if seg.literal != segs[i] {
			return nil, false
		}
	}
	return bindings, true
}

// evalPrereqs scans prereqs in order. decided is true once the first
// prereq whose check passes (or has none) is found; granted reports
// whether that prereq's grant covers ctx.Wants.
func evalPrereqs(prereqs []Prereq, bindings map[string]string, ctx EvalContext) (decided, granted bool) {
	for _, pr := range prereqs {
		if pr.HasCheck {
			lhs := resolveParam(pr.LHS, bindings, ctx)
			rhs := resolveParam(pr.RHS, bindings, ctx)
			if !compare(lhs, rhs, pr.CmpOp) {
				continue
			}
		}
		return true, pr.Grants.Covers(ctx.Wants)
	}
	return false, false
}

func resolveParam(p Param, bindings map[string]string, ctx EvalContext) string {
	switch p.Kind {
	case ParamLiteral:
		return p.Text
	case ParamPathVar:
		return bindings[p.Text]
	case ParamAuthUID:
		if ctx.HasUID {
			return ctx.UID
		}
		return ""
	default:
		return ""
	}
}

func compare(lhs, rhs string, op Op) bool {
	c := strings.Compare(lhs, rhs)
	switch op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpGt:
		return c > 0
	case OpLe:
		return c <= 0
	case OpGe:
		return c >= 0
	default:
		return false
	}
}
