package dispatch

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/ftpcore/engine/codec"
	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
	"github.com/ftpcore/engine/transfer"
)

func init() {
	register(command.TYPE, (*Session).handleTYPE)
	register(command.MODE, (*Session).handleMODE)
	register(command.STRU, (*Session).handleSTRU)
	register(command.SYST, (*Session).handleSYST)
	register(command.STAT, (*Session).handleSTAT)
	register(command.HELP, (*Session).handleHELP)
	register(command.SITE, (*Session).handleSITE)
	register(command.NOOP, (*Session).handleNOOP)
	register(command.ALLO, (*Session).handleALLO)
}

// handleTYPE sets the representation type, generalized beyond
// gonzalop-ftp/server/session_transfer.go's handleTYPE (which only
// accepted A and I) to the full RFC 959 set including E, grounded on
// package codec's TypeCodec.
func (s *Session) handleTYPE(cmd *command.Command) bool {
	arg := strings.ToUpper(strings.TrimSpace(cmd.Arg))
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
		return false
	}

	var t codec.Type
	switch fields[0] {
	case "A":
		t = codec.TypeASCII
	case "I":
		t = codec.TypeImage
	case "E":
		t = codec.TypeEBCDIC
	case "L":
		t = codec.TypeLocal
	default:
		_ = s.Reply(reply.NotImplementedForParam, "Type not supported.")
		return false
	}

	s.pipeline.Reset(s.pipeline.Mode(), t, s.pipeline.Structure())
	_ = s.Reply(reply.CommandOkay, "Type set to "+fields[0]+".")
	return true
}

// handleMODE sets the transfer mode. Generalized beyond
// gonzalop-ftp/server/session_compliance.go's Stream-only handleMODE to
// support Block and Compressed via package codec's ModeCodec.
func (s *Session) handleMODE(cmd *command.Command) bool {
	switch strings.ToUpper(strings.TrimSpace(cmd.Arg)) {
	case "S":
		s.pipeline.Reset(codec.ModeStream, s.pipeline.Type(), s.pipeline.Structure())
		_ = s.Reply(reply.CommandOkay, "Mode set to Stream.")
		return true
	case "B":
		s.pipeline.Reset(codec.ModeBlock, s.pipeline.Type(), s.pipeline.Structure())
		_ = s.Reply(reply.CommandOkay, "Mode set to Block.")
		return true
	case "C":
		s.pipeline.Reset(codec.ModeCompressed, s.pipeline.Type(), s.pipeline.Structure())
		_ = s.Reply(reply.CommandOkay, "Mode set to Compressed.")
		return true
	default:
		_ = s.Reply(reply.NotImplementedForParam, "Command not implemented for that parameter.")
		return false
	}
}

// handleSTRU sets the file structure. Generalized beyond
// gonzalop-ftp/server/session_compliance.go's File-only handleSTRU to
// support Record and Page via package codec's StruCodec.
func (s *Session) handleSTRU(cmd *command.Command) bool {
	switch strings.ToUpper(strings.TrimSpace(cmd.Arg)) {
	case "F":
		s.pipeline.Reset(s.pipeline.Mode(), s.pipeline.Type(), codec.StructureFile)
		_ = s.Reply(reply.CommandOkay, "Structure set to File.")
		return true
	case "R":
		s.pipeline.Reset(s.pipeline.Mode(), s.pipeline.Type(), codec.StructureRecord)
		_ = s.Reply(reply.CommandOkay, "Structure set to Record.")
		return true
	case "P":
		s.pipeline.Reset(s.pipeline.Mode(), s.pipeline.Type(), codec.StructurePage)
		_ = s.Reply(reply.CommandOkay, "Structure set to Page.")
		return true
	default:
		_ = s.Reply(reply.NotImplementedForParam, "Command not implemented for that parameter.")
		return false
	}
}

func (s *Session) handleSYST(cmd *command.Command) bool {
	var systType string
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "aix":
		systType = "UNIX Type: L8"
	case "windows":
		systType = "Windows_NT"
	case "plan9":
		systType = "Plan9"
	default:
		systType = "UNKNOWN Type: L8"
	}
	_ = s.Reply(reply.SystemType, systType)
	return true
}

func (s *Session) handleSTAT(cmd *command.Command) bool {
	if cmd.Arg != "" {
		_ = s.Reply(reply.CommandNotImplemented, "STAT with path not implemented. Use LIST instead.")
		return false
	}

	lines := []string{"Status:"}
	if s.isLoggedIn {
		lines = append(lines, fmt.Sprintf("Logged in as: %s", s.user))
	} else {
		lines = append(lines, "Not logged in")
	}
	lines = append(lines, fmt.Sprintf("TYPE: %s, STRUcture: %s, transfer MODE: %s",
		s.pipeline.Type(), s.pipeline.Structure(), s.pipeline.Mode()))

	if state := s.controller.State(); state != transfer.StateIdle {
		lines = append(lines, fmt.Sprintf("Data connection state: %s", state))
	}

	lines = append(lines, "End of status")
	_ = s.ReplyMulti(reply.SystemStatus, lines)
	return true
}

func (s *Session) handleHELP(cmd *command.Command) bool {
	if cmd.Arg != "" {
		_ = s.Reply(reply.HelpMessage, fmt.Sprintf("No help available for %s.", cmd.Arg))
		return true
	}
	_ = s.ReplyMulti(reply.HelpMessage, []string{
		"The following commands are supported:",
		"USER PASS QUIT ACCT REIN",
		"CWD CDUP PWD MKD RMD",
		"LIST NLST MLSD MLST",
		"RETR STOR APPE STOU DELE",
		"RNFR RNTO REST ABOR",
		"TYPE MODE STRU PORT PASV EPSV EPRT",
		"SIZE MDTM FEAT OPTS",
		"AUTH PROT PBSZ",
		"SYST STAT HELP NOOP SITE",
		"HOST HASH",
		"End of help",
	})
	return true
}

func (s *Session) handleSITE(cmd *command.Command) bool {
	if cmd.Arg == "" {
		_ = s.Reply(reply.ParameterSyntaxError, "SITE command requires parameters.")
		return false
	}

	parts := strings.Fields(cmd.Arg)
	sub := strings.ToUpper(parts[0])

	switch sub {
	case "HELP":
		_ = s.Reply(reply.HelpMessage, "Available SITE commands: HELP, CHMOD")
		return true
	case "CHMOD":
		if len(parts) < 3 {
			_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
			return false
		}
		mode, err := strconv.ParseUint(parts[1], 8, 32)
		if err != nil || mode > 0777 {
			_ = s.Reply(reply.ParameterSyntaxError, "Invalid mode.")
			return false
		}
		path := strings.Join(parts[2:], " ")
		if err := s.fs.Chmod(path, os.FileMode(mode)); err != nil {
			s.replyErr(err)
			return false
		}
		_ = s.Reply(reply.CommandOkay, "SITE CHMOD command successful.")
		return true
	default:
		_ = s.Reply(reply.CommandNotImplemented, "SITE command not implemented.")
		return false
	}
}

func (s *Session) handleNOOP(cmd *command.Command) bool {
	_ = s.Reply(reply.CommandOkay, "OK.")
	return true
}

// handleALLO is accepted and ignored per RFC 959: pre-allocating storage
// has no meaning for the filesystem backends this module targets.
func (s *Session) handleALLO(cmd *command.Command) bool {
	_ = s.Reply(reply.CommandOkayNotImplemented, "ALLO command OK.")
	return true
}
