// Package engine is the FTP server's connection-accepting outer layer:
// it owns the listener, connection and bandwidth limits, and the
// configuration every Session reads through the dispatch.Host
// interface. Adapted from gonzalop-ftp/server/server.go's Server, with
// command dispatch itself pulled out into package dispatch.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ftpcore/engine/auth"
	"github.com/ftpcore/engine/dispatch"
	"github.com/ftpcore/engine/driver"
	"github.com/ftpcore/engine/internal/ratelimit"
	"github.com/ftpcore/engine/transfer"
)

// PathRedactor redacts a filesystem path before it reaches a log line.
// Grounded on gonzalop-ftp/server/metrics.go's PathRedactor, moved here
// since gonzalop-ftp never actually wired a field of this type onto its
// Server (server/privacy_test.go exercises an implementation that
// server/server.go never defines).
type PathRedactor func(path string) string

// Engine is the FTP server. It accepts connections, enforces
// connection/bandwidth limits, and hands each accepted connection to a
// dispatch.Session.
type Engine struct {
	addr string

	driver      driver.Driver
	authBackend auth.Backend

	logger    *slog.Logger
	tlsConfig *tls.Config

	disableMLSD    bool
	welcomeMessage string
	serverName     string
	enableDirMsg   bool

	maxIdleTime  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	maxConnections      int
	maxConnectionsPerIP int

	passiveRegistry        *transfer.Registry
	sharedPassiveAddr      string
	sharedPassiveListener  net.Listener
	pasvMinPort            int
	pasvMaxPort            int

	globalLimiter *ratelimit.Limiter
	perUserLimit  int64

	transferLog io.Writer
	metrics     dispatch.MetricsCollector

	pathRedactor PathRedactor
	redactIPs    bool

	activeConns atomic.Int32
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by ListenAndServe/Serve after Shutdown.
var ErrServerClosed = errors.New("ftp: engine closed")

// New creates an Engine listening on addr (":21" or "host:port"). A
// driver.Driver is required via WithDriver; every other concern has a
// default matching gonzalop-ftp/server/server.go's NewServer.
func New(addr string, opts ...Option) (*Engine, error) {
	e := &Engine{
		addr:           addr,
		authBackend:    auth.Anonymous{},
		logger:         defaultLogger(),
		welcomeMessage: "220 FTP Server Ready",
		serverName:     "UNIX Type: L8",
		maxIdleTime:    5 * time.Minute,
		conns:          make(map[net.Conn]struct{}),
		connsByIP:      make(map[string]int32),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.driver == nil {
		return nil, fmt.Errorf("engine: driver is required (use WithDriver option)")
	}

	return e, nil
}

// ListenAndServe starts the server on the configured address, blocking
// until it stops.
func (e *Engine) ListenAndServe() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return fmt.Errorf("engine: listen on %s: %w", e.addr, err)
	}
	e.logger.Info("ftp engine listening", "addr", e.addr)
	return e.Serve(ln)
}

// servePassiveRegistry runs the shared-listener accept loop used by
// WithSharedPassiveListener: every accepted data connection is matched
// to the Controller that registered its remote IP via dispatch's
// bindPassive, then handed off with Controller.Open. Grounded on
// original_source's DataNetworkHandler.channelConnected, which performs
// the same lookup-by-source-address dispatch against a shared
// configuration's session table.
func (e *Engine) servePassiveRegistry() {
	ln, err := net.Listen("tcp", e.sharedPassiveAddr)
	if err != nil {
		e.logger.Error("shared passive listener failed", "addr", e.sharedPassiveAddr, "error", err)
		return
	}
	e.mu.Lock()
	e.sharedPassiveListener = ln
	e.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.inShutdown.Load() {
				return
			}
			e.logger.Error("shared passive accept error", "error", err)
			continue
		}
		go e.matchPassiveConn(conn)
	}
}

func (e *Engine) matchPassiveConn(conn net.Conn) {
	ip := hostOf(conn.RemoteAddr())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ctrl, err := e.passiveRegistry.Match(ctx, ip, 0, 0)
	if err != nil {
		e.logger.Warn("shared passive connection unmatched", "remote_ip", ip, "error", err)
		conn.Close()
		return
	}
	if err := ctrl.Open(conn); err != nil {
		conn.Close()
	}
}

// Shutdown closes the listener and every active connection. Close
// errors across connections are independent of one another, so they
// are aggregated with go-multierror rather than discarding all but the
// last one.
func (e *Engine) Shutdown() error {
	e.inShutdown.Store(true)

	e.mu.Lock()
	ln := e.listener
	e.listener = nil
	e.mu.Unlock()

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	e.mu.Lock()
	sharedLn := e.sharedPassiveListener
	e.sharedPassiveListener = nil
	e.mu.Unlock()
	if sharedLn != nil {
		if err := sharedLn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	e.mu.Lock()
	conns := e.conns
	e.conns = make(map[net.Conn]struct{})
	e.mu.Unlock()

	for conn := range maps.Keys(conns) {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Serve accepts connections on l until it is closed.
func (e *Engine) Serve(l net.Listener) error {
	e.mu.Lock()
	if e.inShutdown.Load() {
		e.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	e.listener = l
	e.mu.Unlock()

	if e.passiveRegistry != nil && e.sharedPassiveAddr != "" {
		go e.servePassiveRegistry()
	}

	defer func() {
		e.mu.Lock()
		if e.listener == l {
			e.listener = nil
		}
		e.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if e.inShutdown.Load() {
				return ErrServerClosed
			}
			e.logger.Error("accept error", "error", err)
			continue
		}
		go e.handleConnection(conn)
	}
}

func (e *Engine) handleConnection(conn net.Conn) {
	if !e.TrackConnection(conn, true) {
		conn.Close()
		return
	}
	defer e.TrackConnection(conn, false)
	e.handleSession(conn)
}

// TrackConnection implements dispatch.Host, and is also used internally
// by handleConnection for the control connection itself. It returns
// false (and rejects) once the engine is shutting down.
func (e *Engine) TrackConnection(conn net.Conn, add bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inShutdown.Load() {
		if add {
			return false
		}
		delete(e.conns, conn)
		return true
	}

	ip := hostOf(conn.RemoteAddr())
	if add {
		e.conns[conn] = struct{}{}
		if e.maxConnectionsPerIP > 0 {
			e.connsByIPMu.Lock()
			e.connsByIP[ip]++
			e.connsByIPMu.Unlock()
		}
		return true
	}

	delete(e.conns, conn)
	if e.maxConnectionsPerIP > 0 {
		e.connsByIPMu.Lock()
		e.connsByIP[ip]--
		if e.connsByIP[ip] <= 0 {
			delete(e.connsByIP, ip)
		}
		e.connsByIPMu.Unlock()
	}
	return true
}

func hostOf(addr net.Addr) string {
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

func (e *Engine) handleSession(conn net.Conn) {
	if e.maxConnections > 0 && e.activeConns.Load() >= int32(e.maxConnections) {
		ip := hostOf(conn.RemoteAddr())
		e.logger.Warn("connection_rejected", "remote_ip", ip, "reason", "global_limit_reached", "limit", e.maxConnections)
		if e.metrics != nil {
			e.metrics.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if e.maxConnectionsPerIP > 0 {
		ip := hostOf(conn.RemoteAddr())
		e.connsByIPMu.Lock()
		current := e.connsByIP[ip]
		e.connsByIPMu.Unlock()
		if current >= int32(e.maxConnectionsPerIP) {
			e.logger.Warn("connection_rejected", "remote_ip", ip, "reason", "per_ip_limit_reached", "limit", e.maxConnectionsPerIP)
			if e.metrics != nil {
				e.metrics.RecordConnection(false, "per_ip_limit_reached")
			}
			fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
			conn.Close()
			return
		}
	}

	e.activeConns.Add(1)
	defer e.activeConns.Add(-1)
	if e.metrics != nil {
		e.metrics.RecordConnection(true, "accepted")
	}

	dispatch.NewSession(e, conn).Serve()
}

// The following methods satisfy dispatch.Host.

func (e *Engine) Driver() driver.Driver               { return e.driver }
func (e *Engine) AuthBackend() auth.Backend           { return e.authBackend }
func (e *Engine) Logger() *slog.Logger                { return e.logger }
func (e *Engine) TLSConfig() *tls.Config              { return e.tlsConfig }
func (e *Engine) MaxIdleTime() time.Duration          { return e.maxIdleTime }
func (e *Engine) ReadTimeout() time.Duration          { return e.readTimeout }
func (e *Engine) WriteTimeout() time.Duration         { return e.writeTimeout }
func (e *Engine) WelcomeMessage() string              { return e.welcomeMessage }
func (e *Engine) ServerName() string                  { return e.serverName }
func (e *Engine) DisableMLSD() bool                   { return e.disableMLSD }
func (e *Engine) EnableDirMessage() bool              { return e.enableDirMsg }
func (e *Engine) PassiveRegistry() *transfer.Registry { return e.passiveRegistry }

// SharedPassiveAddr returns the shared passive listener's bound address,
// or nil if the listener has not started yet or shared mode is not
// configured.
func (e *Engine) SharedPassiveAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sharedPassiveListener == nil {
		return nil
	}
	return e.sharedPassiveListener.Addr()
}
func (e *Engine) GlobalLimiter() *ratelimit.Limiter   { return e.globalLimiter }
func (e *Engine) PerUserLimit() int64                 { return e.perUserLimit }
func (e *Engine) TransferLog() io.Writer              { return e.transferLog }
func (e *Engine) Metrics() dispatch.MetricsCollector  { return e.metrics }

// PassiveListener opens a fresh listener for PASV/EPSV, honoring the
// configured passive port range (gonzalop-ftp has no port-range option
// at all; this generalizes driver.Settings.PasvMinPort/MaxPort, which
// the teacher's FileSystem.Settings already declares but nothing ever
// consulted, into an actual bind loop).
func (e *Engine) PassiveListener() (net.Listener, error) {
	minPort, maxPort := e.pasvMinPort, e.pasvMaxPort
	if minPort == 0 || maxPort == 0 {
		return net.Listen("tcp", ":0")
	}
	if minPort > maxPort {
		return nil, fmt.Errorf("engine: invalid passive port range %d-%d", minPort, maxPort)
	}
	var lastErr error
	for port := minPort; port <= maxPort; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("engine: no free port in passive range %d-%d: %w", minPort, maxPort, lastErr)
}

// RedactPath applies the configured PathRedactor, or returns path
// unchanged if none is set. Grounded on the behavior
// gonzalop-ftp/server/privacy_test.go exercises against a Server that
// never actually had this method.
func (e *Engine) RedactPath(path string) string {
	if e.pathRedactor == nil {
		return path
	}
	return e.pathRedactor(path)
}

// RedactIP masks the trailing component of an address for logging when
// redaction is enabled, matching gonzalop-ftp/server/privacy_test.go's
// TestRedactIP expectations (last dotted/colon segment replaced with
// "xxx").
func (e *Engine) RedactIP(ip string) string {
	if !e.redactIPs || ip == "" {
		return ip
	}
	sep := "."
	idx := strings.LastIndex(ip, ".")
	if idx < 0 {
		sep = ":"
		idx = strings.LastIndex(ip, ":")
	}
	if idx < 0 {
		return ip
	}
	return ip[:idx+len(sep)] + "xxx"
}

func defaultLogger() *slog.Logger {
	return slog.Default()
}
