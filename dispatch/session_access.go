package dispatch

import (
	"errors"

	"github.com/ftpcore/engine/auth"
	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
)

func init() {
	register(command.USER, (*Session).handleUSER)
	register(command.PASS, (*Session).handlePASS)
	register(command.ACCT, (*Session).handleACCT)
	register(command.QUIT, (*Session).handleQUIT)
	register(command.REIN, (*Session).handleREIN)
}

// handleUSER begins a login attempt. Grounded on
// gonzalop-ftp/server/session_access.go's handleUSER.
func (s *Session) handleUSER(cmd *command.Command) bool {
	backend := s.host.AuthBackend()
	if err := backend.CheckUser(cmd.Arg, s.host_); err != nil {
		_ = s.Reply(reply.NotLoggedIn, "User not accepted.")
		return false
	}
	s.user = cmd.Arg
	s.isLoggedIn = false
	_ = s.Reply(reply.NeedPassword, "Password required for "+cmd.Arg+".")
	return true
}

// handlePASS completes the login attempt and provisions the session's
// filesystem. Grounded on gonzalop-ftp/server/session_access.go's
// handlePASS, with credential checking and filesystem provisioning
// pulled apart across auth.Backend and driver.Driver.
func (s *Session) handlePASS(cmd *command.Command) bool {
	backend := s.host.AuthBackend()
	result, err := backend.CheckPass(s.user, cmd.Arg, s.host_)
	if err != nil {
		if s.host.Metrics() != nil {
			s.host.Metrics().RecordAuthentication(false, s.user)
		}
		if errors.Is(err, auth.ErrDenied) {
			_ = s.Reply(reply.NotLoggedIn, "Login incorrect.")
		} else {
			_ = s.Reply(reply.NotLoggedIn, "Login failed: "+err.Error())
		}
		return false
	}

	fs, err := s.host.Driver().Open(s.user, s.host_, result)
	if err != nil {
		_ = s.Reply(reply.NotLoggedIn, "Could not open user's filesystem.")
		return false
	}

	s.fs = fs
	s.isLoggedIn = true
	if s.host.Metrics() != nil {
		s.host.Metrics().RecordAuthentication(true, s.user)
	}
	s.host.Logger().Info("user logged in", "session_id", s.id, "user", s.user, "read_only", result.ReadOnly)
	_ = s.Reply(reply.UserLoggedIn, "Login successful.")
	return true
}

// handleACCT supplies an account string following a 332 challenge. Most
// auth.Backend implementations never issue one, so this is rarely
// exercised in practice, but it stays in the catalog's sequencing table.
func (s *Session) handleACCT(cmd *command.Command) bool {
	if err := s.host.AuthBackend().CheckAcct(s.user, cmd.Arg); err != nil {
		_ = s.Reply(reply.NotLoggedIn, "Account rejected.")
		return false
	}
	_ = s.Reply(reply.UserLoggedIn, "Account accepted.")
	return true
}

func (s *Session) handleQUIT(cmd *command.Command) bool {
	s.controller.Abort()
	_ = s.Reply(reply.ClosingControlConnection, "Goodbye.")
	_ = s.conn.Close()
	return true
}

// handleREIN reinitializes the session as if freshly connected, per
// RFC 959's REIN, dropping the authenticated filesystem and sequencing
// state but keeping the control connection open.
func (s *Session) handleREIN(cmd *command.Command) bool {
	s.controller.Reset()
	if s.fs != nil {
		_ = s.fs.Close()
		s.fs = nil
	}
	s.isLoggedIn = false
	s.user = ""
	_ = s.Reply(reply.ServiceReady, "Ready for new user.")
	return true
}
