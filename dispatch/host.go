// Package dispatch implements the command sequencing and execution
// layer: a Session reads control-connection lines, checks each one
// against the command catalog's admissibility rule, authenticates,
// executes the matching handler, and replies -- the loop
// gonzalop-ftp/server/session.go calls "the main loop" in its serve doc
// comment, generalized to route through the command/codec/transfer
// packages instead of the teacher's inline per-command logic.
package dispatch

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ftpcore/engine/auth"
	"github.com/ftpcore/engine/driver"
	"github.com/ftpcore/engine/internal/ratelimit"
	"github.com/ftpcore/engine/transfer"
)

// Host is everything a Session needs from the engine that owns it.
// Kept as an interface (rather than importing package engine directly)
// so dispatch has no dependency on engine -- engine depends on dispatch,
// never the reverse.
type Host interface {
	Driver() driver.Driver
	AuthBackend() auth.Backend
	Logger() *slog.Logger
	TLSConfig() *tls.Config

	MaxIdleTime() time.Duration
	ReadTimeout() time.Duration
	WriteTimeout() time.Duration

	WelcomeMessage() string
	ServerName() string
	DisableMLSD() bool

	// EnableDirMessage reports whether CWD should surface a directory's
	// .message file to the client, per gonzalop-ftp/server/session_file.go's
	// enableDirMessage check (a field its own Server never defined --
	// see engine.Engine.enableDirMsg).
	EnableDirMessage() bool

	// PassiveListener returns a fresh listener for PASV/EPSV, honoring
	// any configured port range.
	PassiveListener() (net.Listener, error)

	// PassiveRegistry returns the shared session-matching registry when
	// the engine runs in shared-passive-listener mode, or nil when each
	// session gets its own listener (the default).
	PassiveRegistry() *transfer.Registry

	// SharedPassiveAddr returns the shared listener's address to
	// advertise in a PASV/EPSV reply when PassiveRegistry is non-nil.
	SharedPassiveAddr() net.Addr

	// GlobalLimiter returns the engine-wide bandwidth limiter, or nil.
	GlobalLimiter() *ratelimit.Limiter
	// PerUserLimit returns the per-session bandwidth cap in bytes/sec, or 0.
	PerUserLimit() int64

	TransferLog() io.Writer
	Metrics() MetricsCollector

	RedactPath(path string) string
	RedactIP(ip string) string

	// TrackConnection registers/unregisters conn for connection-limit
	// accounting. Returns false if the connection should be rejected
	// (engine shutting down).
	TrackConnection(conn net.Conn, add bool) bool
}

// MetricsCollector is the optional metrics sink a Host may provide.
// Kept in dispatch (rather than engine) so both packages can reference
// the same type without an import cycle; engine.Engine holds the
// configured implementation and surfaces it through Host.Metrics.
// Grounded on gonzalop-ftp/server/metrics.go's MetricsCollector.
type MetricsCollector interface {
	RecordCommand(cmd string, success bool, duration time.Duration)
	RecordTransfer(operation string, bytes int64, duration time.Duration)
	RecordConnection(accepted bool, reason string)
	RecordAuthentication(success bool, user string)
}
