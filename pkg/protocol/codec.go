package protocol

import (
	"fmt"
	"io"

	"github.com/rsteinwert/csserver/pkg/codes"
)

// Request is one decoded frame: Header plus a command-specific body, one
// of GetSessionIDBody (empty struct), CreateAccountRequest, LoginRequest,
// GetRequest, or PostRequest depending on Header.Command().
type Request struct {
	Header Header
	Body   any
}

// GetSessionIDBody is the (empty) body of a GET_SESSION_ID request.
type GetSessionIDBody struct{}

// ReadRequest reads one header and its command-specific body from r.
// Unknown commands decode the header only and return a CommandFormat
// error so the caller can still reply with the request's session id.
func ReadRequest(r io.Reader) (Request, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Request{}, err
	}

	switch h.Command() {
	case CmdGetSessionID:
		return Request{Header: h, Body: GetSessionIDBody{}}, nil
	case CmdCreateAccount:
		body, err := ReadCreateAccountRequest(r)
		if err != nil {
			return Request{Header: h}, err
		}
		return Request{Header: h, Body: body}, nil
	case CmdLogin:
		body, err := ReadLoginRequest(r)
		if err != nil {
			return Request{Header: h}, err
		}
		return Request{Header: h, Body: body}, nil
	case CmdGet:
		body, err := ReadGetRequest(r, h.Flags())
		if err != nil {
			return Request{Header: h}, err
		}
		return Request{Header: h, Body: body}, nil
	case CmdPost:
		body, err := ReadPostRequest(r, h.Flags())
		if err != nil {
			return Request{Header: h}, err
		}
		return Request{Header: h, Body: body}, nil
	default:
		return Request{Header: h}, codes.New(codes.CommandFormat, fmt.Sprintf("unknown command word 0x%04x", h.Word))
	}
}
