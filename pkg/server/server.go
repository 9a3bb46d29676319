// Package server implements the TLS-terminated connection pipeline: a
// fixed-size worker pool, an accept loop that assigns each connection to
// the first idle worker by linear scan, and per-connection dispatch of
// the wire protocol to the identity, session and access managers.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rsteinwert/csserver/internal/logger"
	"github.com/rsteinwert/csserver/pkg/access"
	"github.com/rsteinwert/csserver/pkg/identity"
	"github.com/rsteinwert/csserver/pkg/metrics"
	"github.com/rsteinwert/csserver/pkg/session"
)

// Config holds the listener and dispatch settings for a Server.
type Config struct {
	ListenAddr  string
	CertFile    string
	KeyFile     string
	WorkerCount int

	// ReadTimeout bounds a single header read so a stalled peer doesn't
	// pin a worker forever; it is reset on every successful read.
	ReadTimeout time.Duration
}

// Server owns the TLS listener, the fixed worker pool, and the three
// managers every dispatched command consults.
type Server struct {
	cfg Config

	listener net.Listener
	pool     *Pool

	identity *identity.Manager
	sessions *session.Manager
	access   *access.Manager
	metrics  *metrics.Registry

	shutdownOnce sync.Once
	shutdownCtx  context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	conns sync.Map // net.Conn -> struct{}, for forced close on Shutdown
	busy  atomic.Int64
}

// New builds a Server bound to the given managers. A nil metrics
// registry is fine: every Registry method is nil-receiver safe. It
// does not start listening; call Serve for that.
func New(cfg Config, idm *identity.Manager, sm *session.Manager, am *access.Manager, mr *metrics.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	s := &Server{
		cfg:         cfg,
		identity:    idm,
		sessions:    sm,
		access:      am,
		metrics:     mr,
		shutdownCtx: ctx,
		cancel:      cancel,
	}
	s.pool = NewPool(cfg.WorkerCount, s.handleConn)
	mr.SetWorkerCounts(0, cfg.WorkerCount)
	return s
}

// Serve loads the TLS certificate pair, opens the listener, and runs the
// accept loop until Shutdown is called or the listener fails. It blocks
// until the accept loop exits.
func (s *Server) Serve() error {
	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return err
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	ln, err := tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return err
	}
	s.listener = ln

	logger.Info("listening on " + s.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCtx.Done():
				return nil
			default:
				logger.Warn("accept failed", logger.Err(err))
				continue
			}
		}

		s.conns.Store(conn, struct{}{})
		if !s.pool.Assign(conn) {
			logger.Warn("pool saturated, dropping connection", logger.ClientIP(conn.RemoteAddr().String()))
			s.metrics.ConnectionDropped()
			s.conns.Delete(conn)
			conn.Close()
			continue
		}
		s.metrics.ConnectionAccepted()
	}
}

// handleConn is run by a pool worker for the lifetime of one connection.
// It is the body passed to NewPool; the pool itself tracks which worker
// slot is busy.
func (s *Server) handleConn(conn net.Conn, workerID int) {
	s.wg.Add(1)
	s.busy.Add(1)
	s.metrics.SetWorkerCounts(int(s.busy.Load()), s.pool.Size())
	defer func() {
		s.conns.Delete(conn)
		conn.Close()
		s.metrics.ConnectionClosed()
		s.busy.Add(-1)
		s.metrics.SetWorkerCounts(int(s.busy.Load()), s.pool.Size())
		s.wg.Done()
	}()

	clientIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP.String()
	}
	lc := logger.NewLogContext(clientIP)
	ctx := logger.WithContext(s.shutdownCtx, lc)

	d := &dispatcher{
		identity: s.identity,
		sessions: s.sessions,
		access:   s.access,
		metrics:  s.metrics,
	}

	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		default:
		}

		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}

		if err := d.handleOne(ctx, conn); err != nil {
			if err != errConnClosed {
				logger.DebugCtx(ctx, "connection dropped", logger.WorkerID(workerID), logger.Err(err))
			}
			return
		}
	}
}

// Shutdown stops the accept loop, forcibly closes every tracked
// connection, and waits for in-flight handlers to return.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.conns.Range(func(key, _ any) bool {
			if conn, ok := key.(net.Conn); ok {
				conn.Close()
			}
			return true
		})
	})
	s.wg.Wait()
}
