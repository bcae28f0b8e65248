package dispatch

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
)

func init() {
	register(command.SIZE, (*Session).handleSIZE)
	register(command.MDTM, (*Session).handleMDTM)
	register(command.FEAT, (*Session).handleFEAT)
	register(command.OPTS, (*Session).handleOPTS)
	register(command.MLSD, (*Session).handleMLSD)
	register(command.MLST, (*Session).handleMLST)
}

func (s *Session) handleSIZE(cmd *command.Command) bool {
	info, err := s.fs.GetFileInfo(cmd.Arg)
	if err != nil {
		_ = s.Reply(reply.FileError, "Could not get file size.")
		return false
	}
	_ = s.Reply(reply.FileStatus, fmt.Sprintf("%d", info.Size()))
	return true
}

// handleMDTM reports (or, with a timestamp argument, per RFC 3659's
// errata some clients still send, ignores) a file's modification time.
// Grounded on gonzalop-ftp/server/session_info.go's handleMDTM.
func (s *Session) handleMDTM(cmd *command.Command) bool {
	info, err := s.fs.GetFileInfo(cmd.Arg)
	if err != nil {
		_ = s.Reply(reply.FileError, "Could not get file modification time.")
		return false
	}
	_ = s.Reply(reply.FileStatus, info.ModTime().UTC().Format("20060102150405"))
	return true
}

func (s *Session) handleFEAT(cmd *command.Command) bool {
	features := []string{
		"Features:",
		"SIZE",
		"MDTM",
		"PASV",
		"EPSV",
		"EPRT",
		"UTF8",
		"TVFS",
		"MLST",
		"MLST type*;size*;modify*;",
		"REST STREAM",
		"HOST",
		"HASH SHA-1;SHA-256;SHA-512;MD5;CRC32",
		"MFMT",
	}
	if !s.host.DisableMLSD() {
		features = append(features, "MLSD")
	}
	if s.host.TLSConfig() != nil {
		features = append(features, "AUTH TLS", "PBSZ", "PROT")
	}
	features = append(features, "End")
	_ = s.ReplyMulti(reply.SystemStatus, features)
	return true
}

// handleOPTS implements UTF8 mode acknowledgement (always on) and
// HASH algorithm selection per RFC 3659/draft-bryan-ftpext-hash.
func (s *Session) handleOPTS(cmd *command.Command) bool {
	upper := strings.ToUpper(cmd.Arg)
	if strings.HasPrefix(upper, "UTF8 ON") || upper == "UTF8" {
		_ = s.Reply(reply.CommandOkay, "Always in UTF8 mode.")
		return true
	}
	if strings.HasPrefix(upper, "HASH") {
		parts := strings.Split(cmd.Arg, " ")
		if len(parts) > 1 {
			switch algo := strings.ToUpper(parts[1]); algo {
			case "SHA-1", "SHA-256", "SHA-512", "MD5", "CRC32":
				s.selectedHash = algo
				_ = s.Reply(reply.CommandOkay, algo+" selected.")
				return true
			}
		}
	}
	_ = s.Reply(reply.ParameterSyntaxError, "Option not understood.")
	return false
}

func (s *Session) handleMLSD(cmd *command.Command) bool {
	if s.host.DisableMLSD() {
		_ = s.Reply(reply.CommandNotImplemented, "Command not implemented.")
		return false
	}
	entries, err := s.fs.ListDir(cmd.Arg)
	if err != nil {
		s.replyErr(err)
		return false
	}
	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		var written int64
		for _, entry := range entries {
			n, err := mlsEntryString(conn, entry)
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
		return written, nil
	}
	return s.runTransfer("MLSD", cmd.Arg, reply.FileStatusOkay, "MLSD listing started.", work)
}

func (s *Session) handleMLST(cmd *command.Command) bool {
	info, err := s.fs.GetFileInfo(cmd.Arg)
	if err != nil {
		_ = s.Reply(reply.FileError, "Could not get file info.")
		return false
	}
	var buf strings.Builder
	buf.WriteByte(' ')
	if _, err := mlsEntryString(&buf, info); err != nil {
		s.replyErr(err)
		return false
	}
	_ = s.ReplyMulti(reply.FileActionOkay, []string{"Listing follows", buf.String(), "End"})
	return true
}

func mlsEntryString(w interface{ Write([]byte) (int, error) }, info os.FileInfo) (int, error) {
	t := "file"
	if info.IsDir() {
		t = "dir"
	}
	line := fmt.Sprintf("type=%s;size=%d;modify=%s; %s\r\n",
		t, info.Size(), info.ModTime().UTC().Format("20060102150405"), info.Name())
	return w.Write([]byte(line))
}
