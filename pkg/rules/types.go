// Package rules implements the access-rules DSL: a small line-oriented
// grammar binding path patterns to read/write grants gated by optional
// prereq checks. See parser.go for the grammar and evaluate.go for the
// first-match-wins evaluation algorithm.
package rules

// Mode is a bitmask of the access kinds a prereq can grant.
type Mode uint8

const (
	ModeRead Mode = 1 << iota
	ModeWrite
)

// Covers reports whether m grants everything in wants.
func (m Mode) Covers(wants Mode) bool {
	return m&wants == wants
}

func parseMode(s string) (Mode, bool) {
	switch s {
	case "r":
		return ModeRead, true
	case "w":
		return ModeWrite, true
	case "rw":
		return ModeRead | ModeWrite, true
	default:
		return 0, false
	}
}

// ParamKind distinguishes the three ways a Param can resolve to a string.
type ParamKind uint8

const (
	ParamLiteral ParamKind = iota
	ParamPathVar
	ParamAuthUID
)

// Param is one side of a prereq comparison.
type Param struct {
	Kind ParamKind
	Text string // literal text, or the path-variable name
}

// Op is a string comparison operator, evaluated via strcmp-style ordering.
type Op uint8

const (
	OpEq Op = iota
	OpLt
	OpGt
	OpLe
	OpGe
)

func parseOp(s string) (Op, bool) {
	switch s {
	case "==":
		return OpEq, true
	case "<":
		return OpLt, true
	case ">":
		return OpGt, true
	case "<=":
		return OpLe, true
	case ">=":
		return OpGe, true
	default:
		return 0, false
	}
}

// Prereq is one allow clause within a match: a grant, and an optional
// check that must pass for the grant to apply.
type Prereq struct {
	Grants   Mode
	HasCheck bool
	LHS, RHS Param
	CmpOp    Op
}

type pathSegment struct {
	literal string
	isVar   bool
	varName string
}

// Rule is one parsed match block: a path pattern and its ordered prereqs.
type Rule struct {
	pattern []pathSegment
	Prereqs []Prereq
}
