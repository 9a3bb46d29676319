package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

func TestHeaderPacksFlagsAndCommand(t *testing.T) {
	h := Header{SessionID: 7, Word: NewWord(CmdGet, 3)}
	assert.Equal(t, uint16(3), uint16(h.Flags()))
	assert.Equal(t, CmdGet, h.Command())
}

func TestHeaderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := Header{SessionID: 0xDEADBEEF, Word: NewWord(CmdLogin, 0)}
	require.NoError(t, WriteHeader(&buf, want))

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCreateAccountRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := CreateAccountRequest{Username: "alice", Email: "alice@example.com", Password: "hunter2"}
	require.NoError(t, WriteCreateAccountRequest(&buf, want))

	got, err := ReadCreateAccountRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCreateAccountRequestRejectsOverlongField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCreateAccountRequest(&buf, CreateAccountRequest{
		Username: string(make([]byte, MaxStringLen+1)),
		Email:    "a@b.com",
		Password: "pw",
	}))

	_, err := ReadCreateAccountRequest(&buf)
	assert.Equal(t, codes.CommandFormat, codes.CodeOf(err))
}

func TestLoginRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := LoginRequest{Username: "alice", Password: "hunter2"}
	require.NoError(t, WriteLoginRequest(&buf, want))

	got, err := ReadLoginRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGetRequest(&buf, 42, GetRequest{Type: item.Image, Path: "public/photo", Offset: 1024}))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), h.SessionID)
	assert.Equal(t, CmdGet, h.Command())

	got, err := ReadGetRequest(&buf, h.Flags())
	require.NoError(t, err)
	assert.Equal(t, item.Image, got.Type)
	assert.Equal(t, "public/photo", got.Path)
	assert.Equal(t, uint64(1024), got.Offset)
}

func TestGetRequestRejectsPathOverBound(t *testing.T) {
	var buf bytes.Buffer
	longPath := string(make([]byte, MaxPathLen+1))
	require.NoError(t, WriteGetRequest(&buf, 1, GetRequest{Type: item.Text, Path: longPath}))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	_, err = ReadGetRequest(&buf, h.Flags())
	assert.Equal(t, codes.CommandFormat, codes.CodeOf(err))
}

func TestPostRequestRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	want := PostRequest{Type: item.Text, Perm: item.Private, Path: "users/alice/note", Data: []byte("hi")}
	require.NoError(t, WritePostRequest(&buf, 7, want))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdPost, h.Command())

	got, err := ReadPostRequest(&buf, h.Flags())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetReplyOmitsDataOnFailure(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGetReply(&buf, GetReply{SessionID: 1, Code: codes.NoPerms}))

	_, err := ReadHeader(&buf)
	require.NoError(t, err)
	code, data, err := ReadGetReplyBody(&buf)
	require.NoError(t, err)
	assert.Equal(t, codes.NoPerms, code)
	assert.Nil(t, data)
	assert.Equal(t, 0, buf.Len())
}

func TestGetReplyCarriesDataOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGetReply(&buf, GetReply{SessionID: 1, Code: codes.Success, Data: []byte("hello")}))

	_, err := ReadHeader(&buf)
	require.NoError(t, err)
	code, data, err := ReadGetReplyBody(&buf)
	require.NoError(t, err)
	assert.Equal(t, codes.Success, code)
	assert.Equal(t, []byte("hello"), data)
}

func TestStatusReplyRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStatusReply(&buf, StatusReply{SessionID: 9, Command: CmdLogin, Code: codes.BadLogin}))

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), h.SessionID)
	assert.Equal(t, CmdLogin, h.Command())

	code, err := ReadStatusCode(&buf)
	require.NoError(t, err)
	assert.Equal(t, codes.BadLogin, code)
}

func TestReadRequestDispatchesGetSessionID(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{SessionID: 0, Word: NewWord(CmdGetSessionID, 0)}))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.IsType(t, GetSessionIDBody{}, req.Body)
}

func TestReadRequestRejectsUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{SessionID: 0, Word: 0x9999}))

	_, err := ReadRequest(&buf)
	assert.Equal(t, codes.CommandFormat, codes.CodeOf(err))
}

func TestReadRequestDispatchesPost(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePostRequest(&buf, 3, PostRequest{Type: item.Video, Perm: item.Public, Path: "public/clip", Data: []byte{1, 2, 3}}))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	body, ok := req.Body.(PostRequest)
	require.True(t, ok)
	assert.Equal(t, item.Video, body.Type)
	assert.Equal(t, item.Public, body.Perm)
}
