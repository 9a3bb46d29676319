package access

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

func newTestManager(t *testing.T, rulesSrc string) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	rulesPath := filepath.Join(root, "db.rules")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesSrc), 0o600))

	m := NewManager()
	require.NoError(t, m.AddDB("db", filepath.Join(root, "dbdata"), rulesPath))
	return m, root
}

func TestAddDBIsIdempotent(t *testing.T) {
	m, root := newTestManager(t, `match public/{x} { allow rw }`)
	require.NoError(t, m.AddDB("db", filepath.Join(root, "dbdata"), filepath.Join(root, "db.rules")))
}

func TestAddDBAbortsOnParseFailure(t *testing.T) {
	root := t.TempDir()
	rulesPath := filepath.Join(root, "db.rules")
	require.NoError(t, os.WriteFile(rulesPath, []byte("not valid rules"), 0o600))

	m := NewManager()
	err := m.AddDB("db", filepath.Join(root, "dbdata"), rulesPath)
	require.Error(t, err)
	_, lookupErr := m.CollectionExists("db", "anything", Ctx{IsAdmin: true})
	assert.Equal(t, codes.NoDB, codes.CodeOf(lookupErr))
}

func TestNoDBErrorForUnknownDatabase(t *testing.T) {
	m, _ := newTestManager(t, `match public/{x} { allow rw }`)
	_, err := m.CollectionExists("missing", "x", Ctx{IsAdmin: true})
	assert.Equal(t, codes.NoDB, codes.CodeOf(err))
}

func TestAdminBypassesTopLevelRestriction(t *testing.T) {
	m, _ := newTestManager(t, `match public/{x} { allow rw }`)
	require.NoError(t, m.AddCollection("db", "users", Ctx{IsAdmin: true}))
	ok, err := m.CollectionExists("db", "users", Ctx{IsAdmin: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrivateItemOnlyReadableByOwner(t *testing.T) {
	m, _ := newTestManager(t, `match users/{uid} { allow rw: if uid == auth.uid }`)
	require.NoError(t, m.AddCollection("db", "users", Ctx{IsAdmin: true}))
	require.NoError(t, m.AddCollection("db", "users/alice", Ctx{UID: "alice", HasUID: true}))

	aliceCtx := Ctx{UID: "alice", HasUID: true}
	require.NoError(t, m.ReplaceItem("db", "users/alice/note", "alice", item.Private, item.Text, []byte("secret"), aliceCtx))

	buf := make([]byte, 16)
	n, err := m.GetItemData("db", "users/alice/note", 0, buf, aliceCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), buf[:n])

	bobCtx := Ctx{UID: "bob", HasUID: true}
	n, err = m.GetItemData("db", "users/alice/note", 0, buf, bobCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPublicReadPrivateWrite(t *testing.T) {
	m, _ := newTestManager(t, `match public/{item} { allow r; allow w: if auth.uid == "admin" }`)
	require.NoError(t, m.AddCollection("db", "public", Ctx{IsAdmin: true}))
	require.NoError(t, m.ReplaceItem("db", "public/hello", "admin", item.Public, item.Text, []byte("hi"), Ctx{UID: "admin", HasUID: true}))

	buf := make([]byte, 16)
	n, err := m.GetItemData("db", "public/hello", 0, buf, Ctx{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), buf[:n])

	err = m.ReplaceItem("db", "public/hello", "bob", item.Public, item.Text, []byte("evil"), Ctx{UID: "bob", HasUID: true})
	assert.Equal(t, codes.NoPerms, codes.CodeOf(err))
}

func TestMalformedPathRejected(t *testing.T) {
	m, _ := newTestManager(t, `match public/{item} { allow rw }`)
	require.NoError(t, m.AddCollection("db", "public", Ctx{IsAdmin: true}))
	err := m.ReplaceItem("db", "/foo/bar", "alice", item.Public, item.Text, []byte("x"), Ctx{UID: "alice", HasUID: true})
	assert.Equal(t, codes.PathInval, codes.CodeOf(err))
}
