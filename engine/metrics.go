package engine

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ftpcore/engine/dispatch"
)

// LogMetrics is a dispatch.MetricsCollector that writes each event as a
// structured log line, rendering byte counts and throughput in
// human-readable form via go-humanize. It exists mainly so a deployment
// without a real metrics backend still gets usable observability,
// mirroring the role gonzalop-ftp/server/metrics.go's MetricsCollector
// interface describes without shipping a default implementation.
type LogMetrics struct {
	Logger *slog.Logger
}

var _ dispatch.MetricsCollector = LogMetrics{}

// NewLogMetrics returns a LogMetrics writing through logger, or
// slog.Default() if logger is nil.
func NewLogMetrics(logger *slog.Logger) LogMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return LogMetrics{Logger: logger}
}

func (m LogMetrics) RecordCommand(cmd string, success bool, duration time.Duration) {
	m.Logger.Debug("command", "cmd", cmd, "success", success, "duration", duration)
}

func (m LogMetrics) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	rate := "n/a"
	if duration > 0 {
		bytesPerSec := float64(bytes) / duration.Seconds()
		rate = humanize.Bytes(uint64(bytesPerSec)) + "/s"
	}
	m.Logger.Info("transfer", "operation", operation, "bytes", humanize.Bytes(uint64(bytes)), "duration", duration, "rate", rate)
}

func (m LogMetrics) RecordConnection(accepted bool, reason string) {
	m.Logger.Info("connection", "accepted", accepted, "reason", reason)
}

func (m LogMetrics) RecordAuthentication(success bool, user string) {
	m.Logger.Info("authentication", "success", success, "user", user)
}
