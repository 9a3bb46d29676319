package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/codes"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateSessionYieldsUnauthenticatedState(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreateSession()
	require.NoError(t, err)
	assert.NotZero(t, id)

	uid, hasUID, ok := m.GetSession(id)
	require.True(t, ok)
	assert.False(t, hasUID)
	assert.Empty(t, uid)
}

func TestCreateSessionIDsAreDistinct(t *testing.T) {
	m := newTestManager(t)

	seen := make(map[uint32]bool)
	for i := 0; i < 50; i++ {
		id, err := m.CreateSession()
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate session id issued")
		seen[id] = true
	}
}

func TestReplaceUIDBindsAuthentication(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreateSession()
	require.NoError(t, err)

	require.NoError(t, m.ReplaceUID(id, "alice-uid"))

	uid, hasUID, ok := m.GetSession(id)
	require.True(t, ok)
	assert.True(t, hasUID)
	assert.Equal(t, "alice-uid", uid)
}

func TestReplaceUIDOnUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)

	err := m.ReplaceUID(99999, "alice-uid")
	assert.Equal(t, codes.NoSession, codes.CodeOf(err))
}

func TestDeleteSessionRemovesState(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreateSession()
	require.NoError(t, err)
	require.NoError(t, m.DeleteSession(id))

	_, _, ok := m.GetSession(id)
	assert.False(t, ok)
}

func TestDeleteUnknownSessionIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.DeleteSession(123456))
}

func TestGetUnknownSessionReportsNotOK(t *testing.T) {
	m := newTestManager(t)
	_, _, ok := m.GetSession(42)
	assert.False(t, ok)
}
