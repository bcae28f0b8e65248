package dispatch

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ftpcore/engine/codec"
	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/driver"
	"github.com/ftpcore/engine/internal/ratelimit"
	"github.com/ftpcore/engine/reply"
	"github.com/ftpcore/engine/transfer"
)

// MaxCommandLength bounds a single control line, guarding against a
// client that never sends CRLF. Kept from gonzalop-ftp/server/session.go.
const MaxCommandLength = 4096

var readerPool = sync.Pool{New: func() any { return bufio.NewReaderSize(nil, 4096) }}
var writerPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, 4096) }}
var telnetPool = sync.Pool{New: func() any { return newTelnetReader(nil) }}

// Session is one client's control-connection lifecycle: command
// sequencing, authentication state, the armed codec pipeline, and the
// data-connection Controller bound to it. Grounded on
// gonzalop-ftp/server/session.go's session struct, generalized so
// sequencing goes through command.Admissible and data transfer goes
// through transfer.Controller instead of the teacher's inline fields.
type Session struct {
	host Host
	conn net.Conn
	tnet *telnetReader
	mu   sync.Mutex // guards conn/reader/writer (swapped by AUTH TLS) and transferDone
	reader *bufio.Reader
	writer *bufio.Writer

	id       string
	remoteIP string

	// Sequencing state, grounded on AbstractCommand.isNextCommandValid.
	prevCommand command.Code
	extraNext   command.Code
	payload     command.Payload

	// current is the command handleLine is presently running through
	// execute; previous is the last one to finish without being
	// invalidated. Grounded on original_source's FtpSession
	// getCurrentCommand/getPreviousCommand pair, exposed as spec.md
	// #4.5's public execution-state contract via CurrentCommand and
	// PreviousCommand below.
	current  *command.Command
	previous *command.Command

	// Auth state.
	isLoggedIn bool
	user       string
	host_      string // from HOST command; named host_ to not shadow field host
	authResult authPending

	fs driver.FileSystem

	restartOffset int64
	prot          string // "P" or "C", RFC 4217
	selectedHash  string

	pipeline   codec.Pipeline
	controller *transfer.Controller

	activeEndpoint *net.TCPAddr
	pasvListener   net.Listener
	passiveKey     string

	// transferDone is closed by runTransfer's completion goroutine once it
	// has sent the transfer's own terminal reply (226/426/451), letting
	// handleABOR block until that reply has gone out before sending ABOR's
	// own 226 -- see session_transfer.go's handleABOR.
	transferDone chan struct{}

	cmdReqChan chan struct{}
}

// authPending holds an ACCT challenge state; most backends never issue
// one (CheckPass succeeds outright), but USER/PASS/ACCT sequencing must
// still support it per spec.md's catalog.
type authPending struct {
	needed bool
}

// NewSession builds a Session around an accepted control connection.
func NewSession(host Host, conn net.Conn) *Session {
	remoteAddr := conn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr
	}

	tn := telnetPool.Get().(*telnetReader)
	tn.Reset(conn)
	r := readerPool.Get().(*bufio.Reader)
	r.Reset(tn)
	w := writerPool.Get().(*bufio.Writer)
	w.Reset(conn)

	s := &Session{
		host:         host,
		conn:         conn,
		tnet:         tn,
		reader:       r,
		writer:       w,
		id:           generateSessionID(),
		remoteIP:     remoteIP,
		prot:         "C",
		selectedHash: "SHA-256",
		pipeline:     codec.NewPipeline(),
		controller:   transfer.NewController(),
	}
	if _, ok := conn.(*tls.Conn); ok {
		s.prot = "P"
	}
	return s
}

func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

type lineResult struct {
	text string
	err  error
}

// Serve runs the session until the client disconnects or QUITs.
// Grounded on gonzalop-ftp/server/session.go's serve: a dedicated reader
// goroutine feeds lines to this loop over a channel, and cmdReqChan
// hands control back to the reader only once the current command has
// finished -- this keeps a handler that swaps the connection (AUTH TLS)
// from racing the next read.
func (s *Session) Serve() {
	defer s.closeSession()

	s.sendWelcome()
	s.host.Logger().Info("session started", "session_id", s.id, "remote_ip", s.host.RedactIP(s.remoteIP))

	done := make(chan struct{})
	defer close(done)
	s.cmdReqChan = make(chan struct{})

	lines := s.startReader(done)

	for {
		line, ok := <-lines
		if !ok {
			return
		}
		if line.err != nil {
			if line.err != io.EOF {
				s.host.Logger().Warn("read error", "session_id", s.id, "error", line.err)
			}
			return
		}

		if s.host.WriteTimeout() > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.host.WriteTimeout()))
		}

		s.handleLine(line.text)

		if s.host.WriteTimeout() > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}

		select {
		case s.cmdReqChan <- struct{}{}:
		case <-time.After(time.Second):
		}
	}
}

func (s *Session) startReader(done chan struct{}) chan lineResult {
	out := make(chan lineResult)
	go func() {
		defer close(out)
		for {
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()

			idle := s.host.MaxIdleTime()
			if rt := s.host.ReadTimeout(); rt > 0 {
				idle = rt
			}
			if idle > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(idle))
			}

			text, err := s.readLine()
			select {
			case out <- lineResult{text, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
			select {
			case <-s.cmdReqChan:
			case <-done:
				return
			}
		}
	}()
	return out
}

func (s *Session) readLine() (string, error) {
	var line []byte
	for {
		s.mu.Lock()
		r := s.reader
		s.mu.Unlock()

		b, err := r.ReadByte()
		if err != nil {
			return string(line), err
		}
		if len(line) >= MaxCommandLength {
			return "", fmt.Errorf("command line too long")
		}
		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

func (s *Session) sendWelcome() {
	msg := s.host.WelcomeMessage()
	switch {
	case strings.HasPrefix(msg, "220 "):
		s.writeLine(msg)
	case strings.HasPrefix(msg, "220"):
		s.writeLine("220 " + strings.TrimPrefix(msg, "220"))
	default:
		_ = s.Reply(reply.ServiceReady, msg)
	}
}

func (s *Session) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.writer, "%s\r\n", line)
	_ = s.writer.Flush()
}

// Reply implements transfer.ReplySink and is the single path every
// handler uses to talk back to the client.
func (s *Session) Reply(code reply.Code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.writer, "%s\r\n", reply.Line(code, message))
	if err != nil {
		return err
	}
	return s.writer.Flush()
}

// ReplyMulti sends a multi-line reply (FEAT, STAT, HELP).
func (s *Session) ReplyMulti(code reply.Code, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range reply.MultiLine(code, lines) {
		if _, err := fmt.Fprintf(s.writer, "%s\r\n", l); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

// replyErr maps a driver.FileSystem error to a reply per spec.md's
// error-handling design, grounded on
// gonzalop-ftp/server/session.go's replyError.
func (s *Session) replyErr(err error) {
	switch {
	case os.IsNotExist(err):
		_ = s.Reply(reply.FileError, "File not found.")
	case os.IsPermission(err):
		_ = s.Reply(reply.FileError, "Permission denied.")
	case os.IsExist(err):
		_ = s.Reply(reply.FileError, "File already exists.")
	default:
		_ = s.Reply(reply.FileError, "Action failed: "+err.Error())
	}
}

// handleLine parses one control line and runs it through the dispatch
// pipeline: parse -> sequence check -> auth gate -> execute -> rotate.
func (s *Session) handleLine(raw string) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return
	}

	logArg := raw
	if strings.HasPrefix(strings.ToUpper(raw), "PASS") {
		logArg = "PASS ***"
	}
	s.host.Logger().Debug("command received", "session_id", s.id, "user", s.user, "line", logArg)

	if s.controller.State() == transfer.StateTransferring {
		upper := strings.ToUpper(raw)
		if !strings.HasPrefix(upper, "ABOR") && !strings.HasPrefix(upper, "STAT") {
			_ = s.Reply(reply.BadCommandSequence, "Transfer in progress, please ABOR or wait.")
			return
		}
	}

	start := time.Now()
	parsed, perr := command.Parse(raw)
	if perr != nil {
		pe := perr.(*command.ParseError)
		_ = s.Reply(reply.Code(pe.Code), pe.Message)
		return
	}

	if !command.Admissible(s.prevCommand, parsed.Code, s.extraNext) {
		_ = s.Reply(reply.BadCommandSequence, "Bad sequence of commands.")
		return
	}

	if command.RequiresAuth(parsed.Code) && !s.isLoggedIn {
		_ = s.Reply(reply.NotLoggedIn, "Please login with USER and PASS.")
		return
	}

	cmd := command.FromLine(parsed)
	s.current = cmd
	ok := s.execute(cmd)

	if s.host.Metrics() != nil {
		s.host.Metrics().RecordCommand(cmd.Verb, ok, time.Since(start))
	}

	// Rotate sequencing state: this command becomes "previous" for the
	// next admissibility check, clearing any stale extraNext override
	// unless the handler just (re-)armed one (e.g. RNFR). If execute
	// invalidated the command (a handler panicked without replying), s.current
	// is already nil here and rotation is skipped entirely, leaving
	// prevCommand/extraNext/previous exactly as they were before this
	// command ran -- see InvalidateCurrent.
	if s.current != nil {
		s.previous = s.current
		s.prevCommand = cmd.Code
		s.extraNext = cmd.ExtraNext
		s.current = nil
	}
}

// CurrentCommand returns the command handleLine is presently running
// through execute, or nil between dispatch cycles.
func (s *Session) CurrentCommand() *command.Command { return s.current }

// PreviousCommand returns the last command to complete execution without
// being invalidated.
func (s *Session) PreviousCommand() *command.Command { return s.previous }

// InvalidateCurrent discards the in-flight command from sequencing state
// as though it never ran: handleLine will not rotate it into
// PreviousCommand or feed it to the next Admissible check. Grounded on
// original_source/AbstractCommand.invalidCurrentCommand, which rolls the
// session's current-command pointer back to its previous value for the
// same reason -- a handler that never got to send its own reply left the
// session in a state not worth remembering as "previous".
func (s *Session) InvalidateCurrent() {
	s.current = nil
}

// execute runs the handler for cmd.Code, returning whether it completed
// without an internal error (used for metrics only -- replies are always
// already sent by the handler). A handler is documented to always reply
// before returning; the one path that can't honor that is a panic, which
// is the non-reply-bearing fault this recovers from: it invalidates cmd
// so handleLine's rotation leaves sequencing state untouched, then sends
// a best-effort 451 itself.
func (s *Session) execute(cmd *command.Command) (ok bool) {
	handler, found := handlers[cmd.Code]
	if !found {
		_ = s.Reply(reply.CommandNotImplemented, "Command not implemented.")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			s.host.Logger().Error("command handler panicked", "session_id", s.id, "command", cmd.Verb, "panic", r)
			s.InvalidateCurrent()
			_ = s.Reply(reply.LocalError, "Requested action aborted: local error in processing.")
			ok = false
		}
	}()

	return handler(s, cmd)
}

func (s *Session) closeSession() {
	s.controller.Reset()
	if s.passiveKey != "" {
		if registry := s.host.PassiveRegistry(); registry != nil {
			registry.Unregister(s.passiveKey)
		}
		s.passiveKey = ""
	}
	if s.pasvListener != nil {
		s.pasvListener.Close()
	}
	if s.fs != nil {
		_ = s.fs.Close()
	}
	_ = s.conn.Close()

	if s.reader != nil {
		s.reader.Reset(nil)
		readerPool.Put(s.reader)
		s.reader = nil
	}
	if s.writer != nil {
		s.writer.Reset(nil)
		writerPool.Put(s.writer)
		s.writer = nil
	}
	if s.tnet != nil {
		s.tnet.Reset(nil)
		telnetPool.Put(s.tnet)
		s.tnet = nil
	}

	s.host.Logger().Debug("session closed", "session_id", s.id, "user", s.user)
}

// rateLimitedReader/Writer apply the engine's global and per-session
// bandwidth caps, most-restrictive-wins, exactly mirroring
// gonzalop-ftp/server/session.go's rateLimitReader/rateLimitWriter.
func (s *Session) rateLimitedReader(r io.Reader) io.Reader {
	if limit := s.host.PerUserLimit(); limit > 0 {
		r = ratelimit.NewReader(r, ratelimit.New(limit))
	}
	if gl := s.host.GlobalLimiter(); gl != nil {
		r = ratelimit.NewReader(r, gl)
	}
	return r
}

func (s *Session) rateLimitedWriter(w io.Writer) io.Writer {
	if limit := s.host.PerUserLimit(); limit > 0 {
		w = ratelimit.NewWriter(w, ratelimit.New(limit))
	}
	if gl := s.host.GlobalLimiter(); gl != nil {
		w = ratelimit.NewWriter(w, gl)
	}
	return w
}

// swapTLS upgrades the control connection in place, used by AUTH TLS.
func (s *Session) swapTLS(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.reader.Reset(conn)
	s.writer.Reset(conn)
}

// logTransfer appends one xferlog-format line, grounded on
// gonzalop-ftp/server/session.go's logTransfer.
func (s *Session) logTransfer(op, filename string, bytes int64, duration time.Duration) {
	w := s.host.TransferLog()
	if w == nil {
		return
	}
	transferSecs := int64(duration.Seconds())
	if transferSecs == 0 {
		transferSecs = 1
	}
	xferType := "b"
	if s.pipeline.Type() == codec.TypeASCII {
		xferType = "a"
	}
	direction := "o"
	if op == "STOR" || op == "APPE" || op == "STOU" {
		direction = "i"
	}
	accessMode := "r"
	if s.user == "anonymous" || s.user == "ftp" {
		accessMode = "a"
	}
	line := fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * c\n",
		time.Now().Format("Mon Jan 02 15:04:05 2006"),
		transferSecs, s.remoteIP, bytes, filename, xferType, direction, accessMode, s.user)
	_, _ = w.Write([]byte(line))
}

// dataConnContext builds a context cancelled by Abort and bounded by a
// dial/accept ceiling, used by handlers that must wait for a data
// connection.
func (s *Session) dataConnContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
