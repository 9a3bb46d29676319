package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for the spans wrapping one dispatched wire command.
const (
	AttrCommand      = "cs.command"
	AttrPath         = "cs.path"
	AttrSessionID    = "cs.session_id"
	AttrUID          = "cs.uid"
	AttrStatus       = "cs.status"
	AttrBytesRead    = "cs.bytes_read"
	AttrBytesWritten = "cs.bytes_written"
)

// Span names, one per wire command.
const (
	SpanGetSessionID  = "command.GET_SESSION_ID"
	SpanCreateAccount = "command.CREATE_ACCOUNT"
	SpanLogin         = "command.LOGIN"
	SpanGet           = "command.GET"
	SpanPost          = "command.POST"
)

// Command returns an attribute for the dispatched command name.
func Command(name string) attribute.KeyValue {
	return attribute.String(AttrCommand, name)
}

// Path returns an attribute for a collection/item path.
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// SessionID returns an attribute for the wire session id.
func SessionID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrSessionID, int64(id))
}

// UID returns an attribute for the authenticated account uid.
func UID(uid string) attribute.KeyValue {
	return attribute.String(AttrUID, uid)
}

// StatusCode returns an attribute for the wire result code's name.
func StatusCode(code string) attribute.KeyValue {
	return attribute.String(AttrStatus, code)
}

// BytesRead returns an attribute for bytes returned by a GET.
func BytesRead(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesRead, n)
}

// BytesWritten returns an attribute for bytes accepted by a POST.
func BytesWritten(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesWritten, n)
}

// StartCommandSpan starts a span for one dispatched wire command,
// tagged with the command name and session id up front; callers add
// path/uid/status attributes as they become known.
func StartCommandSpan(ctx context.Context, spanName, command string, sessionID uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, spanName, trace.WithAttributes(Command(command), SessionID(sessionID)))
}
