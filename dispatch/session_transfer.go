package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ftpcore/engine/command"
	"github.com/ftpcore/engine/reply"
	"github.com/ftpcore/engine/transfer"
)

func init() {
	register(command.RETR, (*Session).handleRETR)
	register(command.STOR, (*Session).handleSTOR)
	register(command.APPE, (*Session).handleAPPE)
	register(command.STOU, (*Session).handleSTOU)
	register(command.REST, (*Session).handleREST)
	register(command.PORT, (*Session).handlePORT)
	register(command.EPRT, (*Session).handleEPRT)
	register(command.PASV, (*Session).handlePASV)
	register(command.EPSV, (*Session).handleEPSV)
	register(command.ABOR, (*Session).handleABOR)
}

// runTransfer drives one data transfer through the Controller: it waits
// for the bound connection to open, starts the transfer (which sends the
// preliminary reply synchronously -- see transfer.Controller.Begin's
// unlockModeCodec barrier), then finishes asynchronously so the control
// loop stays free to read an incoming ABOR while bytes are moving. This
// corrects gonzalop-ftp/server/session.go's documented-but-never-wired
// busy/async-transfer design (its session.busy field is declared and
// read, but nothing in the retrieved sources ever sets it true, so a
// transfer there blocks the whole control loop and ABOR can never land
// until the copy finishes).
func (s *Session) runTransfer(operation, path string, preliminary reply.Code, message string, work transfer.Work) bool {
	openCtx, cancel := s.dataConnContext()
	err := s.controller.AwaitOpen(openCtx)
	cancel()
	if err != nil {
		_ = s.Reply(reply.CantOpenDataConn, "Can't open data connection.")
		return false
	}

	resultCh, err := s.controller.Begin(context.Background(), s, preliminary, message, work)
	if err != nil {
		_ = s.Reply(reply.CantOpenDataConn, "Can't open data connection.")
		return false
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.transferDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)

		start := time.Now()
		result := <-resultCh
		duration := time.Since(start)

		switch {
		case result.Aborted:
			_ = s.Reply(reply.ConnectionClosed, "Connection closed; transfer aborted.")
		case result.Err != nil:
			_ = s.Reply(reply.ConnectionClosed, "Connection closed; transfer aborted: "+result.Err.Error())
		default:
			_ = s.Reply(reply.ClosingDataConnection, "Transfer complete.")
		}

		if s.host.Metrics() != nil {
			s.host.Metrics().RecordTransfer(operation, result.Bytes, duration)
		}
		s.logTransfer(operation, path, result.Bytes, duration)
	}()

	return true
}

func (s *Session) handleRETR(cmd *command.Command) bool {
	file, err := s.fs.OpenFile(cmd.Arg, os.O_RDONLY)
	if err != nil {
		s.replyErr(err)
		return false
	}

	offset := s.restartOffset
	s.restartOffset = 0
	if offset > 0 {
		if seeker, ok := file.(io.Seeker); ok {
			if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
				file.Close()
				s.replyErr(err)
				return false
			}
		} else {
			file.Close()
			_ = s.Reply(reply.FileError, "Resume not supported for this file.")
			return false
		}
	}

	msg := "Opening data connection for RETR."
	if offset > 0 {
		msg = fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset)
	}

	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		src := s.pipeline.EncodeReader(io.Reader(file))
		src = s.rateLimitedReader(src)
		return io.Copy(conn, src)
	}

	return s.runTransfer("RETR", cmd.Arg, reply.FileStatusOkay, msg, work)
}

func (s *Session) handleSTOR(cmd *command.Command) bool {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	offset := s.restartOffset
	if offset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}

	file, err := s.fs.OpenFile(cmd.Arg, flags)
	if err != nil {
		s.replyErr(err)
		return false
	}

	s.restartOffset = 0
	if offset > 0 {
		if seeker, ok := file.(io.Seeker); ok {
			if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
				file.Close()
				s.replyErr(err)
				return false
			}
		} else {
			file.Close()
			_ = s.Reply(reply.FileError, "Resume not supported for this file.")
			return false
		}
	}

	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		src := s.pipeline.DecodeReader(io.Reader(conn))
		src = s.rateLimitedReader(src)
		return io.Copy(file, src)
	}

	return s.runTransfer("STOR", cmd.Arg, reply.FileStatusOkay, "Opening data connection for STOR.", work)
}

func (s *Session) handleAPPE(cmd *command.Command) bool {
	file, err := s.fs.OpenFile(cmd.Arg, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
	if err != nil {
		s.replyErr(err)
		return false
	}

	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		src := s.pipeline.DecodeReader(io.Reader(conn))
		src = s.rateLimitedReader(src)
		return io.Copy(file, src)
	}

	return s.runTransfer("APPE", cmd.Arg, reply.FileStatusOkay, "Opening data connection for APPE.", work)
}

// handleSTOU implements RFC 959's STOU: the server, not the client,
// names the file. Grounded on gonzalop-ftp/server/session_transfer.go's
// handleSTOU.
func (s *Session) handleSTOU(cmd *command.Command) bool {
	path := fmt.Sprintf("ftp-%s-%s", s.id, generateSessionID())

	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		s.replyErr(err)
		return false
	}

	work := func(ctx context.Context, conn net.Conn) (int64, error) {
		defer file.Close()
		src := s.pipeline.DecodeReader(io.Reader(conn))
		src = s.rateLimitedReader(src)
		return io.Copy(file, src)
	}

	return s.runTransfer("STOU", path, reply.FileStatusOkay, fmt.Sprintf("FILE: %s", path), work)
}

func (s *Session) handleREST(cmd *command.Command) bool {
	offset, err := strconv.ParseInt(cmd.Arg, 10, 64)
	if err != nil || offset < 0 {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid offset.")
		return false
	}
	s.restartOffset = offset
	_ = s.Reply(reply.FileActionPending, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
	return true
}

// validateActiveIP guards against FTP bounce attacks: the PORT/EPRT
// target must match the control connection's peer. Grounded on
// gonzalop-ftp/server/session.go's validateActiveIP.
func (s *Session) validateActiveIP(ip net.IP) bool {
	host, _, err := net.SplitHostPort(s.remoteAddrString())
	if err != nil {
		host = s.remoteAddrString()
	}
	remoteIP := net.ParseIP(host)
	return remoteIP != nil && ip.Equal(remoteIP)
}

func (s *Session) remoteAddrString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.RemoteAddr().String()
}

func (s *Session) handlePORT(cmd *command.Command) bool {
	parts := strings.Split(cmd.Arg, ",")
	if len(parts) != 6 {
		_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
		return false
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid port number.")
		return false
	}
	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if ip == nil {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid IP address.")
		return false
	}
	if !s.validateActiveIP(ip) {
		_ = s.Reply(reply.CommandSyntaxError, "Illegal PORT command.")
		return false
	}
	return s.bindActive(&net.TCPAddr{IP: ip, Port: p1*256 + p2})
}

func (s *Session) handleEPRT(cmd *command.Command) bool {
	arg := cmd.Arg
	if len(arg) < 4 {
		_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
		return false
	}
	delim := string(arg[0])
	parts := strings.Split(arg, delim)
	if len(parts) != 5 {
		_ = s.Reply(reply.ParameterSyntaxError, "Syntax error in parameters or arguments.")
		return false
	}
	proto, ipStr, portStr := parts[1], parts[2], parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid network address.")
		return false
	}
	if proto == "1" && ip.To4() == nil {
		_ = s.Reply(reply.Code(522), "Network protocol not supported, use (2).")
		return false
	}
	if proto != "1" && proto != "2" {
		_ = s.Reply(reply.Code(522), "Network protocol not supported, use (1,2).")
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		_ = s.Reply(reply.ParameterSyntaxError, "Invalid port number.")
		return false
	}
	if !s.validateActiveIP(ip) {
		_ = s.Reply(reply.CommandSyntaxError, "Illegal EPRT command.")
		return false
	}
	return s.bindActive(&net.TCPAddr{IP: ip, Port: port})
}

// bindActive arms the Controller for an active-mode transfer and dials
// out immediately; a background goroutine completes the handshake and
// calls Controller.Open once connected.
func (s *Session) bindActive(addr *net.TCPAddr) bool {
	s.controller.Reset()
	if _, err := s.controller.BindActive(s.pipeline, addr); err != nil {
		_ = s.Reply(reply.CantOpenDataConn, "Can't open data connection.")
		return false
	}

	go func() {
		conn, err := net.DialTimeout("tcp", addr.String(), 10*time.Second)
		if err != nil {
			return
		}
		conn, err = s.wrapDataConn(conn)
		if err != nil {
			return
		}
		_ = s.controller.Open(conn)
	}()

	_ = s.Reply(reply.CommandOkay, "Command successful.")
	return true
}

func (s *Session) handlePASV(cmd *command.Command) bool {
	return s.bindPassive(false)
}

func (s *Session) handleEPSV(cmd *command.Command) bool {
	return s.bindPassive(true)
}

// bindPassive arms the Controller for a passive-mode transfer and
// replies with the address the client should connect to. In the
// default per-session mode it opens its own listener and accepts in the
// background (grounded on gonzalop-ftp/server/session_transfer.go's
// handlePASV/handleEPSV and listenPassive); when the engine runs with
// WithSharedPassiveListener, it instead registers the Controller in the
// shared transfer.Registry under the control connection's remote IP, so
// the engine's single accept loop can hand the connection to the right
// session (see engine.Engine.servePassiveRegistry).
func (s *Session) bindPassive(extended bool) bool {
	s.controller.Reset()
	if s.pasvListener != nil {
		s.pasvListener.Close()
		s.pasvListener = nil
	}

	if _, err := s.controller.BindPassive(s.pipeline); err != nil {
		_ = s.Reply(reply.CantOpenDataConn, "Can't open passive connection.")
		return false
	}

	var addr net.Addr
	if registry := s.host.PassiveRegistry(); registry != nil {
		if s.passiveKey != "" {
			registry.Unregister(s.passiveKey)
		}
		s.passiveKey = s.remoteIP
		registry.Register(s.passiveKey, s.controller)
		addr = s.host.SharedPassiveAddr()
		if addr == nil {
			_ = s.Reply(reply.CantOpenDataConn, "Shared passive listener not configured.")
			return false
		}
	} else {
		ln, err := s.host.PassiveListener()
		if err != nil {
			_ = s.Reply(reply.CantOpenDataConn, "Can't open passive connection.")
			return false
		}
		s.pasvListener = ln
		go s.acceptPassive(ln)
		addr = ln.Addr()
	}

	_, portStr, _ := net.SplitHostPort(addr.String())
	port, _ := strconv.Atoi(portStr)

	if extended {
		_ = s.Reply(reply.EnteringExtendedPassive, fmt.Sprintf("Entering Extended Passive Mode (|||%s|)", portStr))
		return true
	}

	host := s.advertisedHost()
	ip := net.ParseIP(host)
	var ipParts []string
	if ip != nil {
		if v4 := ip.To4(); v4 != nil {
			ipParts = strings.Split(v4.String(), ".")
		}
	}
	if len(ipParts) != 4 {
		ipParts = []string{"0", "0", "0", "0"}
	}
	p1, p2 := port/256, port%256
	arg := fmt.Sprintf("%s,%s,%s,%s,%d,%d", ipParts[0], ipParts[1], ipParts[2], ipParts[3], p1, p2)
	_ = s.Reply(reply.EnteringPassiveMode, "Entering Passive Mode ("+arg+").")
	return true
}

func (s *Session) advertisedHost() string {
	if s.fs != nil {
		if settings := s.fs.Settings(); settings.PublicHost != "" {
			host := settings.PublicHost
			if ip := net.ParseIP(host); ip != nil {
				return host
			}
			if addrs, err := net.LookupIP(host); err == nil {
				for _, a := range addrs {
					if v4 := a.To4(); v4 != nil {
						return v4.String()
					}
				}
			}
			return host
		}
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	return host
}

func (s *Session) acceptPassive(ln net.Listener) {
	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(30 * time.Second))
	}
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return
	}
	conn, err = s.wrapDataConn(conn)
	if err != nil {
		return
	}
	_ = s.controller.Open(conn)
}

// wrapDataConn applies RFC 4217 TLS protection (PROT P), connection
// tracking and read/write deadlines to a freshly dialed/accepted data
// connection. Grounded on gonzalop-ftp/server/session.go's wrapDataConn.
func (s *Session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	if s.prot == "P" {
		tlsConfig := s.host.TLSConfig()
		if tlsConfig == nil {
			conn.Close()
			return nil, fmt.Errorf("TLS configuration missing")
		}
		tlsConn := tls.Server(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	if rt := s.host.ReadTimeout(); rt > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(rt))
	}
	if wt := s.host.WriteTimeout(); wt > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wt))
	}

	s.host.TrackConnection(conn, true)
	return conn, nil
}

// handleABOR interrupts an in-progress transfer. When no transfer is
// running it is a no-op success per RFC 959. The 426 for the
// interrupted transfer itself is sent by runTransfer's completion
// goroutine once Result.Aborted comes back true; this handler blocks on
// that goroutine's transferDone latch before sending its own 226, so the
// two replies always reach the client in the mandated 426-then-226
// order instead of racing across two goroutines.
func (s *Session) handleABOR(cmd *command.Command) bool {
	if !s.controller.Abort() {
		_ = s.Reply(reply.ClosingDataConnection, "ABOR command successful; no transfer in progress.")
		return true
	}
	s.host.Logger().Info("transfer abort requested", "session_id", s.id)

	s.mu.Lock()
	done := s.transferDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	_ = s.Reply(reply.ClosingDataConnection, "ABOR command successful.")
	return true
}
