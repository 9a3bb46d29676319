package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/codes"
)

func TestParsePublicRuleUnconditionalRead(t *testing.T) {
	src := `match public/{item} { allow r; allow w: if auth.uid == "admin" }`
	rs, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, rs, 1)

	anon := EvalContext{Wants: ModeRead}
	assert.True(t, HasPerms(rs, "public/hello", anon))

	writeAsBob := EvalContext{UID: "bob", HasUID: true, Wants: ModeWrite}
	assert.False(t, HasPerms(rs, "public/hello", writeAsBob))

	writeAsAdmin := EvalContext{UID: "admin", HasUID: true, Wants: ModeWrite}
	assert.True(t, HasPerms(rs, "public/hello", writeAsAdmin))
}

func TestFirstMatchWinsOverRules(t *testing.T) {
	src := `
match a/{x} { allow rw: if x == "open" }
match a/{x} { allow r }
`
	rs, err := Parse([]byte(src))
	require.NoError(t, err)

	assert.False(t, HasPerms(rs, "a/closed", EvalContext{Wants: ModeWrite}))
	assert.True(t, HasPerms(rs, "a/open", EvalContext{Wants: ModeWrite}))
	assert.True(t, HasPerms(rs, "a/closed", EvalContext{Wants: ModeRead}))
}

func TestOwnerScopedPattern(t *testing.T) {
	src := `match users/{uid} { allow rw: if uid == auth.uid }`
	rs, err := Parse([]byte(src))
	require.NoError(t, err)

	alice := EvalContext{UID: "alice", HasUID: true, Wants: ModeRead}
	assert.True(t, HasPerms(rs, "users/alice/note", alice))

	bob := EvalContext{UID: "bob", HasUID: true, Wants: ModeRead}
	assert.False(t, HasPerms(rs, "users/alice/note", bob))
}

func TestAdminContextShortCircuits(t *testing.T) {
	rs, err := Parse([]byte(`match locked { allow r: if auth.uid == "nobody" }`))
	require.NoError(t, err)
	assert.True(t, HasPerms(rs, "locked", EvalContext{IsAdmin: true, Wants: ModeWrite}))
}

func TestDuplicatePathVariableRejected(t *testing.T) {
	_, err := Parse([]byte(`match a/{x}/{x} { allow r }`))
	require.Error(t, err)
	assert.Equal(t, codes.ParamInval, codes.CodeOf(err))
}

func TestUnknownParamIdentifierRejected(t *testing.T) {
	_, err := Parse([]byte(`match a/{x} { allow r: if y == "z" }`))
	require.Error(t, err)
	assert.Equal(t, codes.ParamInval, codes.CodeOf(err))
}

func TestTruncatedMatchIsParseError(t *testing.T) {
	_, err := Parse([]byte(`match a { allow r`))
	require.Error(t, err)
	assert.Equal(t, codes.Parse, codes.CodeOf(err))
}

func TestNoMatchingRuleDenies(t *testing.T) {
	rs, err := Parse([]byte(`match only/here { allow r }`))
	require.NoError(t, err)
	assert.False(t, HasPerms(rs, "elsewhere", EvalContext{Wants: ModeRead}))
}
