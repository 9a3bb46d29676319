package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/access"
	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/identity"
	"github.com/rsteinwert/csserver/pkg/item"
	"github.com/rsteinwert/csserver/pkg/metrics"
	"github.com/rsteinwert/csserver/pkg/protocol"
	"github.com/rsteinwert/csserver/pkg/session"
)

func newTestDispatcher(t *testing.T, rulesSrc string) *dispatcher {
	t.Helper()
	root := t.TempDir()

	idm, err := identity.Open(filepath.Join(root, "accounts"))
	require.NoError(t, err)

	sm, err := session.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })

	rulesPath := filepath.Join(root, "db.rules")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesSrc), 0o600))
	am := access.NewManager()
	require.NoError(t, am.AddDB(defaultDB, filepath.Join(root, "dbdata"), rulesPath))
	require.NoError(t, am.AddCollection(defaultDB, "users", access.Ctx{IsAdmin: true}))
	require.NoError(t, am.AddCollection(defaultDB, "public", access.Ctx{IsAdmin: true}))

	return &dispatcher{identity: idm, sessions: sm, access: am, metrics: metrics.NewRegistry()}
}

// runOne pipes req through a dispatcher running in a background goroutine
// and returns the client side of the pipe for reading the reply, plus a
// channel that receives handleOne's outcome once the reply has been
// fully written. net.Pipe is unbuffered, so the request write and the
// reply read must interleave with the dispatcher goroutine rather than
// happen strictly before or after it.
func runOne(t *testing.T, d *dispatcher, write func(net.Conn)) (net.Conn, <-chan error) {
	t.Helper()
	client, serverConn := net.Pipe()
	t.Cleanup(func() { client.Close() })

	errc := make(chan error, 1)
	go func() {
		errc <- d.handleOne(context.Background(), serverConn)
	}()

	write(client)
	return client, errc
}

// finish drains handleOne's result after the test has read whatever
// reply bytes it expects, asserting it returned without error.
func finish(t *testing.T, errc <-chan error) {
	t.Helper()
	require.NoError(t, <-errc)
}

func TestGetSessionIDAssignsFreshID(t *testing.T) {
	d := newTestDispatcher(t, `match public/{x} { allow rw }`)
	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteHeader(conn, protocol.Header{Word: protocol.NewWord(protocol.CmdGetSessionID, 0)}))
	})

	h, err := protocol.ReadHeader(client)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdGetSessionID, h.Command())
	assert.NotZero(t, h.SessionID)
	finish(t, errc)
}

func TestCreateAccountThenLoginThenPostThenGet(t *testing.T) {
	d := newTestDispatcher(t, `match users/{uid} { allow rw: if uid == auth.uid }`)

	sid, err := d.sessions.CreateSession()
	require.NoError(t, err)

	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteHeader(conn, protocol.Header{SessionID: sid, Word: protocol.NewWord(protocol.CmdCreateAccount, 0)}))
		require.NoError(t, protocol.WriteCreateAccountRequest(conn, protocol.CreateAccountRequest{Username: "alice", Email: "a@x.com", Password: "hunter2"}))
	})
	code, err := protocol.ReadStatusCode(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.Success, code)
	finish(t, errc)

	info, err := d.identity.Login("alice", "hunter2")
	require.NoError(t, err)

	client, errc = runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteHeader(conn, protocol.Header{SessionID: sid, Word: protocol.NewWord(protocol.CmdLogin, 0)}))
		require.NoError(t, protocol.WriteLoginRequest(conn, protocol.LoginRequest{Username: "alice", Password: "hunter2"}))
	})
	code, err = protocol.ReadStatusCode(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.Success, code)
	finish(t, errc)

	path := "users/" + info.UID + "/note"
	client, errc = runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WritePostRequest(conn, sid, protocol.PostRequest{Type: item.Text, Perm: item.Private, Path: path, Data: []byte("hi")}))
	})
	code, err = protocol.ReadStatusCode(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.Success, code)
	finish(t, errc)

	client, errc = runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteGetRequest(conn, sid, protocol.GetRequest{Type: item.Text, Path: path, Offset: 0}))
	})
	code, data, err := protocol.ReadGetReplyBody(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.Success, code)
	assert.Equal(t, "hi", string(data))
	finish(t, errc)
}

func TestGetOnUnknownSessionReturnsNoSession(t *testing.T) {
	d := newTestDispatcher(t, `match public/{x} { allow rw }`)
	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteGetRequest(conn, 999, protocol.GetRequest{Type: item.Text, Path: "public/x"}))
	})
	code, _, err := protocol.ReadGetReplyBody(skipHeader(t, client))
	require.NoError(t, err)
	assert.Equal(t, codes.NoSession, code)
	finish(t, errc)
}

func TestCrossUserPrivateItemReturnsZeroBytes(t *testing.T) {
	d := newTestDispatcher(t, `match users/{uid} { allow rw: if uid == auth.uid }`)

	sidAlice, err := d.sessions.CreateSession()
	require.NoError(t, err)
	aliceInfo, err := d.identity.CreateAccount("alice", "a@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, d.sessions.ReplaceUID(sidAlice, aliceInfo.UID))

	path := "users/" + aliceInfo.UID + "/note"
	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WritePostRequest(conn, sidAlice, protocol.PostRequest{Type: item.Text, Perm: item.Private, Path: path, Data: []byte("secret")}))
	})
	code, err := protocol.ReadStatusCode(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.Success, code)
	finish(t, errc)

	sidBob, err := d.sessions.CreateSession()
	require.NoError(t, err)
	bobInfo, err := d.identity.CreateAccount("bob", "b@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, d.sessions.ReplaceUID(sidBob, bobInfo.UID))

	client, errc = runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteGetRequest(conn, sidBob, protocol.GetRequest{Type: item.Text, Path: path}))
	})
	code, data, err := protocol.ReadGetReplyBody(skipHeader(t, client))
	require.NoError(t, err)
	require.Equal(t, codes.NoPerms, code)
	assert.Empty(t, data)
	finish(t, errc)
}

func TestMalformedPathReturnsPathInval(t *testing.T) {
	d := newTestDispatcher(t, `match public/{x} { allow rw }`)
	sid, err := d.sessions.CreateSession()
	require.NoError(t, err)

	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteHeader(conn, protocol.Header{SessionID: sid, Word: protocol.NewWord(protocol.CmdPost, flagsForType(item.Text))}))
		require.NoError(t, protocol.WritePostRequest(conn, sid, protocol.PostRequest{Type: item.Text, Perm: item.Public, Path: "/foo/bar", Data: []byte("x")}))
	})
	code, err := protocol.ReadStatusCode(skipHeader(t, client))
	require.NoError(t, err)
	assert.Equal(t, codes.PathInval, code)
	finish(t, errc)
}

// TestDispatcherRecordsMetricsWithoutPanicking exercises the
// instrumented path end to end; the metrics package's own tests cover
// the counter values in isolation.
func TestDispatcherRecordsMetricsWithoutPanicking(t *testing.T) {
	d := newTestDispatcher(t, `match public/{x} { allow rw }`)
	assert.NotNil(t, d.metrics)

	client, errc := runOne(t, d, func(conn net.Conn) {
		require.NoError(t, protocol.WriteHeader(conn, protocol.Header{Word: protocol.NewWord(protocol.CmdGetSessionID, 0)}))
	})
	skipHeader(t, client)
	finish(t, errc)
}

func flagsForType(t item.DataType) uint8 {
	return uint8(t) & 0x07
}

// skipHeader reads and discards the reply header, returning conn so the
// caller can read the body that follows.
func skipHeader(t *testing.T, conn net.Conn) net.Conn {
	t.Helper()
	_, err := protocol.ReadHeader(conn)
	require.NoError(t, err)
	return conn
}
