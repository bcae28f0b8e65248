package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
)

func init() {
	register(command.HOST, (*Session).handleHOST)
	register(command.HASH, (*Session).handleHASH)
	register(command.MFMT, (*Session).handleMFMT)
}

// handleHOST implements RFC 7151 virtual hosting: the client names the
// virtual host before USER/PASS, and Driver.Open later sees it.
// Grounded on gonzalop-ftp/server/session_extensions.go's handleHOST.
func (s *Session) handleHOST(cmd *command.Command) bool {
	if s.isLoggedIn {
		_ = s.Reply(reply.BadCommandSequence, "Cannot change host after login.")
		return false
	}
	s.host_ = cmd.Arg
	_ = s.Reply(reply.ServiceReady, "Host accepted.")
	return true
}

func (s *Session) handleHASH(cmd *command.Command) bool {
	hash, err := s.fs.GetHash(cmd.Arg, s.selectedHash)
	if err != nil {
		s.replyErr(err)
		return false
	}
	_ = s.Reply(reply.FileStatus, fmt.Sprintf("%s %s %s", s.selectedHash, hash, cmd.Arg))
	return true
}

// handleMFMT sets a file's modification time, per draft-somers-ftp-mfxx.
// Grounded on gonzalop-ftp/server/session_extensions.go's handleMFMT.
func (s *Session) handleMFMT(cmd *command.Command) bool {
	parts := strings.SplitN(cmd.Arg, " ", 2)
	if len(parts) != 2 {
		_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
		return false
	}
	timeStr, path := parts[0], parts[1]

	t, err := time.Parse("20060102150405", timeStr)
	if err != nil {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid time format.")
		return false
	}
	if err := s.fs.SetTime(path, t); err != nil {
		s.replyErr(err)
		return false
	}
	_ = s.Reply(reply.FileStatus, fmt.Sprintf("Modify=%s; %s", timeStr, path))
	return true
}
