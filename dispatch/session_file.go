package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
)

func init() {
	register(command.PWD, (*Session).handlePWD)
	register(command.CWD, (*Session).handleCWD)
	register(command.CDUP, (*Session).handleCDUP)
	register(command.LIST, (*Session).handleLIST)
	register(command.NLST, (*Session).handleNLST)
	register(command.MKD, (*Session).handleMKD)
	register(command.RMD, (*Session).handleRMD)
	register(command.DELE, (*Session).handleDELE)
	register(command.RNFR, (*Session).handleRNFR)
	register(command.RNTO, (*Session).handleRNTO)
}

func (s *Session) handlePWD(cmd *command.Command) bool {
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyErr(err)
		return false
	}
	_ = s.Reply(reply.PathCreated, fmt.Sprintf("%q is the current directory.", cwd))
	return true
}

// handleCWD changes the working directory and, if the engine enables it,
// surfaces a per-directory .message file. Grounded on
// gonzalop-ftp/server/session_file.go's handleCWD.
func (s *Session) handleCWD(cmd *command.Command) bool {
	if err := s.fs.ChangeDir(cmd.Arg); err != nil {
		s.replyErr(err)
		return false
	}

	if s.host.EnableDirMessage() {
		if f, err := s.fs.OpenFile(".message", 0); err == nil {
			lr := io.LimitReader(f, 2048)
			b, _ := io.ReadAll(lr)
			f.Close()
			if len(b) > 0 {
				msg := strings.TrimRight(string(b), "\r\n")
				lines := strings.Split(msg, "\n")
				for i, l := range lines {
					lines[i] = strings.TrimRight(l, "\r")
				}
				_ = s.ReplyMulti(reply.FileActionOkay, append([]string{"Message:"}, lines...))
				return true
			}
		}
	}

	_ = s.Reply(reply.FileActionOkay, "Directory successfully changed.")
	return true
}

func (s *Session) handleCDUP(cmd *command.Command) bool {
	return s.handleCWD(&command.Command{Code: command.CWD, Arg: ".."})
}

func (s *Session) handleLIST(cmd *command.Command) bool {
	return s.listLike(cmd.Arg, false)
}

func (s *Session) handleNLST(cmd *command.Command) bool {
	return s.listLike(cmd.Arg, true)
}

// listLike implements both LIST and NLST, which differ only in
// formatting. Grounded on gonzalop-ftp/server/session_file.go's
// handleLIST/handleNLST, now routed through the data Controller instead
// of the teacher's inline connData/io.Copy.
func (s *Session) listLike(path string, namesOnly bool) bool {
	entries, err := s.fs.ListDir(path)
	if err != nil {
		s.replyErr(err)
		return false
	}

	msg := "Here comes the directory listing."
	if namesOnly {
		msg = "Here comes the file list."
	}

	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		var written int64
		for _, entry := range entries {
			var line string
			if namesOnly {
				line = entry.Name() + "\r\n"
			} else {
				line = fmt.Sprintf("%s 1 owner group %d %s %s\r\n",
					entry.Mode().String(), entry.Size(), entry.ModTime().Format("Jan 02 15:04"), entry.Name())
			}
			n, werr := io.WriteString(conn, line)
			written += int64(n)
			if werr != nil {
				return written, werr
			}
		}
		return written, nil
	}

	operation := "LIST"
	if namesOnly {
		operation = "NLST"
	}
	return s.runTransfer(operation, path, reply.FileStatusOkay, msg, work)
}

func (s *Session) handleMKD(cmd *command.Command) bool {
	if err := s.fs.MakeDir(cmd.Arg); err != nil {
		s.replyErr(err)
		return false
	}
	s.host.Logger().Info("directory created", "session_id", s.id, "remote_ip", s.host.RedactIP(s.remoteIP),
		"user", s.user, "path", s.host.RedactPath(cmd.Arg))
	_ = s.Reply(reply.PathCreated, fmt.Sprintf("%q created.", cmd.Arg))
	return true
}

func (s *Session) handleRMD(cmd *command.Command) bool {
	if err := s.fs.RemoveDir(cmd.Arg); err != nil {
		s.replyErr(err)
		return false
	}
	s.host.Logger().Info("directory removed", "session_id", s.id, "remote_ip", s.host.RedactIP(s.remoteIP),
		"user", s.user, "path", s.host.RedactPath(cmd.Arg))
	_ = s.Reply(reply.FileActionOkay, "Directory removed.")
	return true
}

func (s *Session) handleDELE(cmd *command.Command) bool {
	if err := s.fs.DeleteFile(cmd.Arg); err != nil {
		s.replyErr(err)
		return false
	}
	s.host.Logger().Info("file deleted", "session_id", s.id, "remote_ip", s.host.RedactIP(s.remoteIP),
		"user", s.user, "path", s.host.RedactPath(cmd.Arg))
	_ = s.Reply(reply.FileActionOkay, "File deleted.")
	return true
}

// handleRNFR stashes the rename source and forces RNTO as the only
// admissible next command, via Command.ExtraNext (see command.Admissible
// rule 2) rather than the teacher's bare renameFrom string field -- the
// path itself still lives on the session, since ExtraNext only carries a
// Code.
func (s *Session) handleRNFR(cmd *command.Command) bool {
	if _, err := s.fs.GetFileInfo(cmd.Arg); err != nil {
		_ = s.Reply(reply.FileError, "File not found.")
		return false
	}
	s.payload = command.Payload{Kind: command.PayloadRename, Rename: &command.RenamePayload{FromPath: cmd.Arg}}
	cmd.SetExtraNext(command.RNTO)
	_ = s.Reply(reply.FileActionPending, "Requested file action pending further information.")
	return true
}

func (s *Session) handleRNTO(cmd *command.Command) bool {
	if s.payload.Kind != command.PayloadRename || s.payload.Rename == nil {
		_ = s.Reply(reply.BadCommandSequence, "Bad sequence of commands. Send RNFR first.")
		return false
	}
	from := s.payload.Rename.FromPath
	s.payload = command.Payload{}
	if err := s.fs.Rename(from, cmd.Arg); err != nil {
		s.replyErr(err)
		return false
	}
	_ = s.Reply(reply.FileActionOkay, "Requested file action successful, file renamed.")
	return true
}
