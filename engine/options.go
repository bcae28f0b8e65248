package engine

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ftpcore/engine/auth"
	"github.com/ftpcore/engine/dispatch"
	"github.com/ftpcore/engine/driver"
	"github.com/ftpcore/engine/internal/ratelimit"
	"github.com/ftpcore/engine/transfer"
)

// Option configures an Engine at construction time.
// Grounded on gonzalop-ftp/server/options.go's Option.
type Option func(*Engine) error

// WithDriver sets the backend driver for file operations. Required.
func WithDriver(d driver.Driver) Option {
	return func(e *Engine) error {
		if e.driver != nil {
			return fmt.Errorf("engine: driver already set")
		}
		e.driver = d
		return nil
	}
}

// WithAuthBackend sets the credential-checking backend. Defaults to
// auth.Anonymous{} (read-only ftp/anonymous) if never set, mirroring
// gonzalop-ftp's FSDriver fallback.
func WithAuthBackend(b auth.Backend) Option {
	return func(e *Engine) error {
		e.authBackend = b
		return nil
	}
}

// WithTLS enables TLS (FTPS), for either AUTH TLS (explicit) or a
// tls.Listener passed directly to Serve (implicit).
func WithTLS(config *tls.Config) Option {
	return func(e *Engine) error {
		e.tlsConfig = config
		return nil
	}
}

// WithLogger sets a custom logger. If not specified, slog.Default() is
// used; engine/logging.go wires a github.com/lmittmann/tint handler for
// the default CLI entry point instead.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets the idle timeout between commands. Defaults to 5 minutes.
func WithMaxIdleTime(d time.Duration) Option {
	return func(e *Engine) error {
		e.maxIdleTime = d
		return nil
	}
}

// WithReadTimeout sets the per-read deadline on control and data
// connections. Zero (the default) applies no deadline beyond MaxIdleTime.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.readTimeout = d
		return nil
	}
}

// WithWriteTimeout sets the per-write deadline on control and data connections.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.writeTimeout = d
		return nil
	}
}

// WithMaxConnections sets the total simultaneous connection limit (0 = unlimited)
// and the per-IP limit (0 = unlimited).
func WithMaxConnections(total, perIP int) Option {
	return func(e *Engine) error {
		e.maxConnections = total
		e.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithDisableMLSD disables the MLSD command, for compatibility testing
// against legacy clients that mishandle it.
func WithDisableMLSD(disable bool) Option {
	return func(e *Engine) error {
		e.disableMLSD = disable
		return nil
	}
}

// WithDirMessage enables surfacing a directory's .message file on CWD,
// completing gonzalop-ftp/server/session_file.go's enableDirMessage
// check (a field its own Server never defined).
func WithDirMessage(enable bool) Option {
	return func(e *Engine) error {
		e.enableDirMsg = enable
		return nil
	}
}

// WithWelcomeMessage overrides the banner sent on connect.
func WithWelcomeMessage(msg string) Option {
	return func(e *Engine) error {
		e.welcomeMessage = msg
		return nil
	}
}

// WithServerName overrides the SYST reply text.
func WithServerName(name string) Option {
	return func(e *Engine) error {
		e.serverName = name
		return nil
	}
}

// WithPassivePortRange restricts PASV/EPSV listeners to the given port
// range, rather than letting the OS pick an ephemeral port. Needed when
// the engine sits behind a firewall that only forwards a fixed band.
func WithPassivePortRange(min, max int) Option {
	return func(e *Engine) error {
		if min <= 0 || max <= 0 || min > max {
			return fmt.Errorf("engine: invalid passive port range %d-%d", min, max)
		}
		e.pasvMinPort = min
		e.pasvMaxPort = max
		return nil
	}
}

// WithSharedPassiveListener puts the engine into shared-listener passive
// mode: every session registers its Controller under its remote IP in
// the given transfer.Registry instead of opening its own PASV listener;
// a single accept loop on addr demultiplexes incoming data connections
// back to the right session by source IP (transfer.Registry.Match).
// Useful behind a load balancer that would otherwise need to forward an
// entire ephemeral port range per backend.
func WithSharedPassiveListener(addr string, registry *transfer.Registry) Option {
	return func(e *Engine) error {
		e.passiveRegistry = registry
		e.sharedPassiveAddr = addr
		return nil
	}
}

// WithBandwidthLimit caps aggregate transfer throughput across all
// sessions at bytesPerSecond. Wired through internal/ratelimit.Limiter.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(e *Engine) error {
		e.globalLimiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithPerSessionBandwidthLimit caps each session's transfer throughput
// independently of (and in addition to) any global limit.
func WithPerSessionBandwidthLimit(bytesPerSecond int64) Option {
	return func(e *Engine) error {
		e.perUserLimit = bytesPerSecond
		return nil
	}
}

// WithTransferLog writes one xferlog-format line per completed transfer to w.
func WithTransferLog(w io.Writer) Option {
	return func(e *Engine) error {
		e.transferLog = w
		return nil
	}
}

// WithMetrics installs a MetricsCollector. Nil is valid and is the default
// (no metrics collected).
func WithMetrics(collector dispatch.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = collector
		return nil
	}
}

// WithPathRedactor installs a function that redacts filesystem paths
// before they reach a log line. Completes the PathRedactor type
// gonzalop-ftp/server/metrics.go declares but server/server.go never
// wires to a field.
func WithPathRedactor(redactor PathRedactor) Option {
	return func(e *Engine) error {
		e.pathRedactor = redactor
		return nil
	}
}

// WithRedactIPs enables masking the trailing component of logged client
// addresses (e.g. "192.168.1.xxx"). Completes the redactIPs field
// gonzalop-ftp/server/privacy_test.go exercises against a Server that
// never declared it.
func WithRedactIPs(enable bool) Option {
	return func(e *Engine) error {
		e.redactIPs = enable
		return nil
	}
}
