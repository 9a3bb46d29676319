package protocol

import (
	"io"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

// Command codes, matching the command_word once the flag bits (0x0FF0)
// are masked out.
const (
	CmdGetSessionID  uint16 = 0x1001
	CmdCreateAccount uint16 = 0x1002
	CmdLogin         uint16 = 0x1003
	CmdGet           uint16 = 0x2001
	CmdPost          uint16 = 0x2002
)

// GetSessionIDReply carries the session id a worker assigns a fresh
// connection. The request body is empty.
type GetSessionIDReply struct {
	SessionID uint32
}

func WriteGetSessionIDReply(w io.Writer, reply GetSessionIDReply) error {
	return WriteHeader(w, Header{SessionID: reply.SessionID, Word: NewWord(CmdGetSessionID, 0)})
}

// CreateAccountRequest carries the three login fields for account
// creation.
type CreateAccountRequest struct {
	Username string
	Email    string
	Password string
}

func ReadCreateAccountRequest(r io.Reader) (CreateAccountRequest, error) {
	username, err := readString(r, MaxStringLen)
	if err != nil {
		return CreateAccountRequest{}, err
	}
	email, err := readString(r, MaxStringLen)
	if err != nil {
		return CreateAccountRequest{}, err
	}
	password, err := readString(r, MaxStringLen)
	if err != nil {
		return CreateAccountRequest{}, err
	}
	return CreateAccountRequest{Username: username, Email: email, Password: password}, nil
}

func WriteCreateAccountRequest(w io.Writer, req CreateAccountRequest) error {
	if err := writeString(w, req.Username); err != nil {
		return err
	}
	if err := writeString(w, req.Email); err != nil {
		return err
	}
	return writeString(w, req.Password)
}

// LoginRequest carries the two login fields for authentication.
type LoginRequest struct {
	Username string
	Password string
}

func ReadLoginRequest(r io.Reader) (LoginRequest, error) {
	username, err := readString(r, MaxStringLen)
	if err != nil {
		return LoginRequest{}, err
	}
	password, err := readString(r, MaxStringLen)
	if err != nil {
		return LoginRequest{}, err
	}
	return LoginRequest{Username: username, Password: password}, nil
}

func WriteLoginRequest(w io.Writer, req LoginRequest) error {
	if err := writeString(w, req.Username); err != nil {
		return err
	}
	return writeString(w, req.Password)
}

// StatusReply is the common "header + uint16_be err" shape shared by
// CREATE_ACCOUNT, LOGIN and POST.
type StatusReply struct {
	SessionID uint32
	Command   uint16
	Code      codes.Code
}

func WriteStatusReply(w io.Writer, reply StatusReply) error {
	if err := WriteHeader(w, Header{SessionID: reply.SessionID, Word: NewWord(reply.Command, 0)}); err != nil {
		return err
	}
	var buf [2]byte
	buf[0] = byte(reply.Code >> 8)
	buf[1] = byte(reply.Code)
	_, err := w.Write(buf[:])
	return err
}

func ReadStatusCode(r io.Reader) (codes.Code, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return codes.Code(buf[0])<<8 | codes.Code(buf[1]), nil
}

// GetRequest carries the resource type (packed in the header flags),
// path and byte offset for a read.
type GetRequest struct {
	Type   item.DataType
	Path   string
	Offset uint64
}

func ReadGetRequest(r io.Reader, flags uint8) (GetRequest, error) {
	typ, err := dataTypeFromFlags(flags)
	if err != nil {
		return GetRequest{}, err
	}
	path, err := readString(r, MaxPathLen)
	if err != nil {
		return GetRequest{}, err
	}
	var offBuf [8]byte
	if _, err := io.ReadFull(r, offBuf[:]); err != nil {
		return GetRequest{}, err
	}
	offset := uint64(0)
	for _, b := range offBuf {
		offset = offset<<8 | uint64(b)
	}
	return GetRequest{Type: typ, Path: path, Offset: offset}, nil
}

func WriteGetRequest(w io.Writer, sessionID uint32, req GetRequest) error {
	flags := flagsFromDataType(req.Type)
	if err := WriteHeader(w, Header{SessionID: sessionID, Word: NewWord(CmdGet, flags)}); err != nil {
		return err
	}
	if err := writeString(w, req.Path); err != nil {
		return err
	}
	var offBuf [8]byte
	off := req.Offset
	for i := 7; i >= 0; i-- {
		offBuf[i] = byte(off)
		off >>= 8
	}
	_, err := w.Write(offBuf[:])
	return err
}

// GetReply is "header + uint16_be err" followed by a data frame only on
// SUCCESS.
type GetReply struct {
	SessionID uint32
	Code      codes.Code
	Data      []byte
}

func WriteGetReply(w io.Writer, reply GetReply) error {
	if err := WriteHeader(w, Header{SessionID: reply.SessionID, Word: NewWord(CmdGet, 0)}); err != nil {
		return err
	}
	var buf [2]byte
	buf[0] = byte(reply.Code >> 8)
	buf[1] = byte(reply.Code)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if reply.Code != codes.Success {
		return nil
	}
	return writeSizedData(w, reply.Data)
}

func ReadGetReplyBody(r io.Reader) (codes.Code, []byte, error) {
	code, err := ReadStatusCode(r)
	if err != nil {
		return 0, nil, err
	}
	if code != codes.Success {
		return code, nil, nil
	}
	data, err := readSizedData(r, MaxGetDataLen)
	if err != nil {
		return 0, nil, err
	}
	return code, data, nil
}

// PostRequest carries the item permission, path, and data to write.
type PostRequest struct {
	Type item.DataType
	Perm item.Permission
	Path string
	Data []byte
}

func ReadPostRequest(r io.Reader, flags uint8) (PostRequest, error) {
	typ, err := dataTypeFromFlags(flags)
	if err != nil {
		return PostRequest{}, err
	}
	var permByte [1]byte
	if _, err := io.ReadFull(r, permByte[:]); err != nil {
		return PostRequest{}, err
	}
	perm := item.Permission(permByte[0])
	path, err := readString(r, MaxPathLen)
	if err != nil {
		return PostRequest{}, err
	}
	data, err := readData(r, MaxDataLen)
	if err != nil {
		return PostRequest{}, err
	}
	return PostRequest{Type: typ, Perm: perm, Path: path, Data: data}, nil
}

func WritePostRequest(w io.Writer, sessionID uint32, req PostRequest) error {
	flags := flagsFromDataType(req.Type)
	if err := WriteHeader(w, Header{SessionID: sessionID, Word: NewWord(CmdPost, flags)}); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(req.Perm)}); err != nil {
		return err
	}
	if err := writeString(w, req.Path); err != nil {
		return err
	}
	return writeData(w, req.Data)
}
