package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/codes"
)

func TestCreateAccountThenLoginRoundTrips(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	info, err := m.CreateAccount("alice", "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Len(t, info.UID, uidLength)

	loginInfo, err := m.Login("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, info.UID, loginInfo.UID)
}

func TestLoginWrongPasswordFails(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.CreateAccount("alice", "alice@example.com", "hunter2")
	require.NoError(t, err)

	_, err = m.Login("alice", "wrong")
	assert.Equal(t, codes.BadLogin, codes.CodeOf(err))
}

func TestLoginUnknownUserFails(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.Login("nobody", "x")
	assert.Equal(t, codes.NoAccount, codes.CodeOf(err))
}

func TestDuplicateUsernameRejected(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.CreateAccount("alice", "a1@example.com", "pw")
	require.NoError(t, err)

	_, err = m.CreateAccount("alice", "a2@example.com", "pw2")
	assert.Equal(t, codes.DuplicateAccount, codes.CodeOf(err))
}

func TestDuplicateEmailRejected(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.CreateAccount("alice", "shared@example.com", "pw")
	require.NoError(t, err)

	_, err = m.CreateAccount("bob", "shared@example.com", "pw2")
	assert.Equal(t, codes.DuplicateAccount, codes.CodeOf(err))
}

func TestCreateAccountRejectsEmptyUsername(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.CreateAccount("", "a@example.com", "pw")
	assert.Equal(t, codes.CommandFormat, codes.CodeOf(err))
}

func TestCreateAccountRejectsOverlongField(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = m.CreateAccount(strings.Repeat("a", 129), "a@example.com", "pw")
	assert.Equal(t, codes.CommandFormat, codes.CodeOf(err))
}

func TestDeleteAccountThenLookupFails(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	info, err := m.CreateAccount("alice", "alice@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, m.DeleteAccount(info.UID))
	assert.False(t, m.AccountExists(info.UID))
}

func TestReopenRoundTripsAccounts(t *testing.T) {
	dir := t.TempDir()
	m1, err := Open(dir)
	require.NoError(t, err)
	info, err := m1.CreateAccount("alice", "alice@example.com", "pw")
	require.NoError(t, err)

	m2, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, m2.AccountExists(info.UID))
	name, ok := m2.GetUsername(info.UID)
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
}
