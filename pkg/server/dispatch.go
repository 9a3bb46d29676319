package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rsteinwert/csserver/internal/logger"
	"github.com/rsteinwert/csserver/internal/telemetry"
	"github.com/rsteinwert/csserver/pkg/access"
	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/identity"
	"github.com/rsteinwert/csserver/pkg/metrics"
	"github.com/rsteinwert/csserver/pkg/protocol"
	"github.com/rsteinwert/csserver/pkg/session"
)

// defaultDB is the single database name registered at bootstrap; the
// wire protocol carries no database selector of its own.
const defaultDB = "db"

// errConnClosed marks an orderly peer close (as opposed to a read/write
// failure), so the caller can skip logging it as an error.
var errConnClosed = errors.New("connection closed by peer")

// dispatcher decodes one request, routes it to the relevant manager, and
// encodes the reply. It holds no per-connection state of its own —
// everything that outlives a single command lives in the SessionManager.
type dispatcher struct {
	identity *identity.Manager
	sessions *session.Manager
	access   *access.Manager
	metrics  *metrics.Registry
}

// handleOne reads exactly one request from conn, dispatches it, and
// writes exactly one reply (except where the protocol calls for silent
// connection drop on malformed input). Returns errConnClosed when the
// peer closed cleanly between frames.
func (d *dispatcher) handleOne(ctx context.Context, conn net.Conn) error {
	req, err := protocol.ReadRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errConnClosed
		}
		var wireErr *codes.Error
		if errors.As(err, &wireErr) {
			// Header decoded but the command word was unrecognized or
			// its body failed to parse: reply with the offending
			// frame's own session id rather than dropping silently.
			return protocol.WriteStatusReply(conn, protocol.StatusReply{
				SessionID: req.Header.SessionID,
				Command:   req.Header.Command(),
				Code:      wireErr.Code,
			})
		}
		// Header itself couldn't be read: a raw I/O failure, not a
		// protocol violation. Drop the connection without a reply.
		return err
	}

	switch body := req.Body.(type) {
	case protocol.GetSessionIDBody:
		return d.handleGetSessionID(ctx, conn, req.Header)
	case protocol.CreateAccountRequest:
		return d.handleCreateAccount(ctx, conn, req.Header, body)
	case protocol.LoginRequest:
		return d.handleLogin(ctx, conn, req.Header, body)
	case protocol.GetRequest:
		return d.handleGet(ctx, conn, req.Header, body)
	case protocol.PostRequest:
		return d.handlePost(ctx, conn, req.Header, body)
	default:
		return errors.New("decoded request carries no recognized body")
	}
}

func (d *dispatcher) handleGetSessionID(ctx context.Context, conn net.Conn, h protocol.Header) error {
	start := time.Now()
	var code codes.Code
	_, span := telemetry.StartCommandSpan(ctx, telemetry.SpanGetSessionID, "GET_SESSION_ID", h.SessionID)
	defer func() {
		span.SetAttributes(telemetry.StatusCode(code.String()))
		span.End()
		d.metrics.RecordCommand("GET_SESSION_ID", code.String(), time.Since(start))
	}()

	if h.SessionID != 0 {
		code = codes.DuplicateSession
		return protocol.WriteStatusReply(conn, protocol.StatusReply{
			SessionID: h.SessionID,
			Command:   protocol.CmdGetSessionID,
			Code:      code,
		})
	}
	id, err := d.sessions.CreateSession()
	if err != nil {
		code = codes.CodeOf(err)
		return protocol.WriteStatusReply(conn, protocol.StatusReply{
			Command: protocol.CmdGetSessionID,
			Code:    code,
		})
	}
	code = codes.Success
	return protocol.WriteGetSessionIDReply(conn, protocol.GetSessionIDReply{SessionID: id})
}

func (d *dispatcher) handleCreateAccount(ctx context.Context, conn net.Conn, h protocol.Header, req protocol.CreateAccountRequest) error {
	start := time.Now()
	var code codes.Code
	ctx, span := telemetry.StartCommandSpan(ctx, telemetry.SpanCreateAccount, "CREATE_ACCOUNT", h.SessionID)
	defer func() {
		span.SetAttributes(telemetry.StatusCode(code.String()))
		span.End()
		d.metrics.RecordCommand("CREATE_ACCOUNT", code.String(), time.Since(start))
	}()

	if !d.requireSession(h.SessionID) {
		code = codes.NoSession
		return d.reject(conn, h, protocol.CmdCreateAccount, code)
	}
	lc := logger.FromContext(ctx).WithCommand("CREATE_ACCOUNT")
	info, err := d.identity.CreateAccount(req.Username, req.Email, req.Password)
	if err != nil {
		code = codes.CodeOf(err)
		telemetry.RecordError(ctx, err)
		logger.InfoCtx(logger.WithContext(ctx, lc), "create account failed", logger.Username(req.Username), logger.Err(err))
		return d.reject(conn, h, protocol.CmdCreateAccount, code)
	}
	code = codes.Success
	span.SetAttributes(telemetry.UID(info.UID))
	logger.InfoCtx(logger.WithContext(ctx, lc), "account created", logger.UID(info.UID), logger.Username(info.Username))
	return protocol.WriteStatusReply(conn, protocol.StatusReply{SessionID: h.SessionID, Command: protocol.CmdCreateAccount, Code: code})
}

func (d *dispatcher) handleLogin(ctx context.Context, conn net.Conn, h protocol.Header, req protocol.LoginRequest) error {
	start := time.Now()
	var code codes.Code
	ctx, span := telemetry.StartCommandSpan(ctx, telemetry.SpanLogin, "LOGIN", h.SessionID)
	defer func() {
		span.SetAttributes(telemetry.StatusCode(code.String()))
		span.End()
		d.metrics.RecordCommand("LOGIN", code.String(), time.Since(start))
	}()

	if !d.requireSession(h.SessionID) {
		code = codes.NoSession
		return d.reject(conn, h, protocol.CmdLogin, code)
	}
	lc := logger.FromContext(ctx).WithCommand("LOGIN")
	info, err := d.identity.Login(req.Username, req.Password)
	if err != nil {
		code = codes.CodeOf(err)
		telemetry.RecordError(ctx, err)
		logger.InfoCtx(logger.WithContext(ctx, lc), "login failed", logger.Username(req.Username), logger.Err(err))
		return d.reject(conn, h, protocol.CmdLogin, code)
	}
	if err := d.sessions.ReplaceUID(h.SessionID, info.UID); err != nil {
		code = codes.CodeOf(err)
		telemetry.RecordError(ctx, err)
		return d.reject(conn, h, protocol.CmdLogin, code)
	}
	code = codes.Success
	span.SetAttributes(telemetry.UID(info.UID))
	logger.InfoCtx(logger.WithContext(ctx, lc.WithAuth(info.UID)), "login succeeded")
	return protocol.WriteStatusReply(conn, protocol.StatusReply{SessionID: h.SessionID, Command: protocol.CmdLogin, Code: code})
}

func (d *dispatcher) handleGet(ctx context.Context, conn net.Conn, h protocol.Header, req protocol.GetRequest) error {
	start := time.Now()
	var code codes.Code
	ctx, span := telemetry.StartCommandSpan(ctx, telemetry.SpanGet, "GET", h.SessionID)
	span.SetAttributes(telemetry.Path(req.Path))
	defer func() {
		span.SetAttributes(telemetry.StatusCode(code.String()))
		span.End()
		d.metrics.RecordCommand("GET", code.String(), time.Since(start))
	}()

	actx, ok := d.accessCtx(h.SessionID)
	if !ok {
		code = codes.NoSession
		return protocol.WriteGetReply(conn, protocol.GetReply{SessionID: h.SessionID, Code: code})
	}

	lc := logger.FromContext(ctx).WithCommand("GET").WithAuth(actx.UID)
	buf := make([]byte, maxGetChunk)
	n, err := d.access.GetItemData(defaultDB, req.Path, int64(req.Offset), buf, actx)
	if err != nil {
		code = codes.CodeOf(err)
		telemetry.RecordError(ctx, err)
		logger.InfoCtx(logger.WithContext(ctx, lc), "get failed", logger.Path(req.Path), logger.Err(err))
		return protocol.WriteGetReply(conn, protocol.GetReply{SessionID: h.SessionID, Code: code})
	}
	code = codes.Success
	span.SetAttributes(telemetry.BytesRead(n))
	d.metrics.RecordGetBytes(n)
	logger.DebugCtx(logger.WithContext(ctx, lc), "get succeeded", logger.Path(req.Path), logger.BytesRead(n))
	return protocol.WriteGetReply(conn, protocol.GetReply{SessionID: h.SessionID, Code: code, Data: buf[:n]})
}

func (d *dispatcher) handlePost(ctx context.Context, conn net.Conn, h protocol.Header, req protocol.PostRequest) error {
	start := time.Now()
	var code codes.Code
	ctx, span := telemetry.StartCommandSpan(ctx, telemetry.SpanPost, "POST", h.SessionID)
	span.SetAttributes(telemetry.Path(req.Path))
	defer func() {
		span.SetAttributes(telemetry.StatusCode(code.String()))
		span.End()
		d.metrics.RecordCommand("POST", code.String(), time.Since(start))
	}()

	actx, ok := d.accessCtx(h.SessionID)
	if !ok {
		code = codes.NoSession
		return d.reject(conn, h, protocol.CmdPost, code)
	}

	lc := logger.FromContext(ctx).WithCommand("POST").WithAuth(actx.UID)
	owner := ""
	if actx.HasUID {
		owner = actx.UID
	}
	err := d.access.ReplaceItem(defaultDB, req.Path, owner, req.Perm, req.Type, req.Data, actx)
	if err != nil {
		code = codes.CodeOf(err)
		telemetry.RecordError(ctx, err)
		logger.InfoCtx(logger.WithContext(ctx, lc), "post failed", logger.Path(req.Path), logger.Err(err))
		return d.reject(conn, h, protocol.CmdPost, code)
	}
	code = codes.Success
	span.SetAttributes(telemetry.BytesWritten(len(req.Data)))
	d.metrics.RecordPostBytes(len(req.Data))
	logger.DebugCtx(logger.WithContext(ctx, lc), "post succeeded", logger.Path(req.Path), logger.BytesWritten(len(req.Data)))
	return protocol.WriteStatusReply(conn, protocol.StatusReply{SessionID: h.SessionID, Command: protocol.CmdPost, Code: code})
}

// maxGetChunk bounds how much of an item a single GET reads into memory;
// large items are fetched across multiple GETs using the offset field.
const maxGetChunk = 4 << 20

func (d *dispatcher) requireSession(id uint32) bool {
	_, _, ok := d.sessions.GetSession(id)
	return ok
}

// accessCtx resolves a session id to the access.Ctx a command should run
// under: unauthenticated if the session exists but carries no bound uid,
// or ok=false if the session id is unknown entirely.
func (d *dispatcher) accessCtx(id uint32) (access.Ctx, bool) {
	uid, hasUID, ok := d.sessions.GetSession(id)
	if !ok {
		return access.Ctx{}, false
	}
	return access.Ctx{UID: uid, HasUID: hasUID}, true
}

func (d *dispatcher) reject(conn net.Conn, h protocol.Header, command uint16, code codes.Code) error {
	return protocol.WriteStatusReply(conn, protocol.StatusReply{SessionID: h.SessionID, Command: command, Code: code})
}
