package dispatch

import (
	"crypto/tls"
	"strings"

	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
)

func init() {
	register(command.AUTH, (*Session).handleAUTH)
	register(command.PBSZ, (*Session).handlePBSZ)
	register(command.PROT, (*Session).handlePROT)
}

// handleAUTH upgrades the control connection to TLS per RFC 4217.
// Grounded on gonzalop-ftp/server/session_security.go's handleAUTH.
func (s *Session) handleAUTH(cmd *command.Command) bool {
	tlsConfig := s.host.TLSConfig()
	if tlsConfig == nil {
		_ = s.Reply(reply.CommandNotImplemented, "TLS not configured.")
		return false
	}
	if strings.ToUpper(cmd.Arg) != "TLS" {
		_ = s.Reply(reply.NotImplementedForParam, "Only AUTH TLS is supported.")
		return false
	}

	_ = s.Reply(reply.AuthProceed, "AUTH TLS successful.")

	s.mu.Lock()
	rawConn := s.conn
	s.mu.Unlock()
	tlsConn := tls.Server(rawConn, tlsConfig)
	s.swapTLS(tlsConn)
	return true
}

func (s *Session) handlePBSZ(cmd *command.Command) bool {
	if s.host.TLSConfig() == nil {
		_ = s.Reply(reply.CommandNotImplemented, "TLS not configured.")
		return false
	}
	_ = s.Reply(reply.CommandOkay, "PBSZ=0")
	return true
}

func (s *Session) handlePROT(cmd *command.Command) bool {
	if s.host.TLSConfig() == nil {
		_ = s.Reply(reply.CommandNotImplemented, "TLS not configured.")
		return false
	}
	switch strings.ToUpper(cmd.Arg) {
	case "P":
		s.prot = "P"
		_ = s.Reply(reply.CommandOkay, "PROT P OK.")
		return true
	case "C":
		s.prot = "C"
		_ = s.Reply(reply.CommandOkay, "PROT C OK.")
		return true
	default:
		_ = s.Reply(reply.NotImplementedForParam, "PROT not implemented.")
		return false
	}
}
