// Package codes defines the wire-level error codes shared by every layer of
// the content server, from the collection tree up through the protocol
// encoder. It is a leaf package with no internal dependencies so it can be
// imported by rules, collection, identity, access, and protocol without
// creating import cycles.
package codes

import "fmt"

// Code is the uint16 error code sent on the wire after every command.
type Code uint16

const (
	Success           Code = 0
	Parse             Code = 1
	NoPerms           Code = 2
	PathInval         Code = 3
	ParamInval        Code = 4
	NoDB              Code = 5
	FileOpen          Code = 6
	FileRead          Code = 7
	FileWrite         Code = 8
	ParentCollInval   Code = 9
	CollInval         Code = 10
	ItemCreate        Code = 11
	NoSession         Code = 12
	NoAccount         Code = 13
	DuplicateSession  Code = 14
	DuplicateAccount  Code = 15
	BadLogin          Code = 16
	CommandFormat     Code = 17
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Parse:
		return "PARSE"
	case NoPerms:
		return "NO_PERMS"
	case PathInval:
		return "PATH_INVAL"
	case ParamInval:
		return "PARAM_INVAL"
	case NoDB:
		return "NO_DB"
	case FileOpen:
		return "FILE_OPEN"
	case FileRead:
		return "FILE_READ"
	case FileWrite:
		return "FILE_WRITE"
	case ParentCollInval:
		return "PARENT_COLL_INVAL"
	case CollInval:
		return "COLL_INVAL"
	case ItemCreate:
		return "ITEM_CREATE"
	case NoSession:
		return "NO_SESSION"
	case NoAccount:
		return "NO_ACCOUNT"
	case DuplicateSession:
		return "DUPLICATE_SESSION"
	case DuplicateAccount:
		return "DUPLICATE_ACCOUNT"
	case BadLogin:
		return "BAD_LOGIN"
	case CommandFormat:
		return "COMMAND_FORMAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// IsStorage reports whether the code belongs to the "storage" taxonomy
// bucket: surfaced to the client and also logged server-side.
func (c Code) IsStorage() bool {
	switch c {
	case FileOpen, FileRead, FileWrite, ParentCollInval, CollInval, ItemCreate:
		return true
	default:
		return false
	}
}

// Error wraps a Code with a human-readable message and an optional
// underlying cause, without losing the wire code needed to reply to the
// client.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the wire Code from an error, defaulting to
// COMMAND_FORMAT for errors that never carry one (a programming error
// worth surfacing rather than silently mapping to SUCCESS).
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Code
	}
	return CommandFormat
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
