// Package transfer implements the data-connection lifecycle: the
// control/data synchronization state machine (bind, open, transfer,
// wind down) that spec.md's sequencing layer drives via PORT, PASV,
// EPRT, EPSV, RETR, STOR, STOU, APPE and ABOR.
//
// Grounded on original_source's DataNetworkHandler: channelConnected
// mirrors Open, channelClosed mirrors the pre-end/closing wind-down,
// unlockModeCodec mirrors the 150-before-bytes ordering Begin enforces,
// and exceptionCaught's classification into "abort" vs "ignore" mirrors
// TransferAbortedFromInternal.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ftpcore/engine/codec"
	"github.com/ftpcore/engine/reply"
)

// ErrBusy is returned when a bind is attempted while a transfer is
// already underway -- the single-transfer-at-a-time rule.
var ErrBusy = errors.New("transfer: data connection already in use")

// ErrWrongState is returned when an operation is attempted from a state
// that does not permit it (e.g. Open called before a Bind).
var ErrWrongState = errors.New("transfer: operation invalid in current state")

// ReplySink is the control-connection reply channel a Controller writes
// its preliminary (150/125) and terminal (226/426/451) replies through.
// Kept as an interface (rather than a concrete *session type) so this
// package never imports dispatch.
type ReplySink interface {
	Reply(code reply.Code, message string) error
}

// Work performs the actual byte movement once a data connection is
// open. It receives the live net.Conn and must respect ctx cancellation
// (triggered by Abort). Returning early on ctx.Err() is expected.
type Work func(ctx context.Context, conn net.Conn) (int64, error)

// Result is delivered on the channel Begin returns once Work completes
// (or the transfer is aborted).
type Result struct {
	Bytes   int64
	Err     error
	Aborted bool
}

// Controller drives one data connection through its lifecycle for
// exactly one transfer at a time. A session owns one Controller for its
// whole lifetime, rebinding it for each PASV/PORT/EPSV/EPRT and each
// RETR/STOR/STOU/APPE/LIST/NLST that follows.
type Controller struct {
	mu    sync.Mutex
	state State

	dataConn *DataConn

	openedDataChannel chan struct{}
	preEndOfTransfer  chan struct{}
	closedDataChannel chan struct{}

	transferAbortedFromInternal atomic.Bool

	cancel context.CancelFunc
}

// NewController returns a Controller in the idle state.
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BindPassive arms the controller to receive a server-side-listened data
// connection (PASV/EPSV). The caller is responsible for the actual
// net.Listener; once it Accepts a conn, it calls Open.
func (c *Controller) BindPassive(pl codec.Pipeline) (*DataConn, error) {
	return c.bind(StateBoundPassive, Endpoint{Direction: DirectionPassive}, pl)
}

// BindActive arms the controller to dial out to the client's advertised
// address (PORT/EPRT). The caller performs the actual Dial; once it
// succeeds, it calls Open.
func (c *Controller) BindActive(pl codec.Pipeline, remote net.Addr) (*DataConn, error) {
	return c.bind(StateConnectingActive, Endpoint{Direction: DirectionActive, RemoteAddr: remote}, pl)
}

func (c *Controller) bind(state State, ep Endpoint, pl codec.Pipeline) (*DataConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateClosing && c.state != StateAborted {
		return nil, ErrBusy
	}
	dc := &DataConn{Endpoint: ep, Pipeline: pl}
	c.dataConn = dc
	c.state = state
	c.openedDataChannel = make(chan struct{})
	c.preEndOfTransfer = make(chan struct{})
	c.closedDataChannel = make(chan struct{})
	c.transferAbortedFromInternal.Store(false)
	return dc, nil
}

// Open transitions a bound controller to StateOpen once the physical
// net.Conn exists (listener accepted, or dial succeeded), and releases
// anyone blocked in AwaitOpen. Grounded on
// DataNetworkHandler.channelConnected.
func (c *Controller) Open(conn net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBoundPassive && c.state != StateConnectingActive {
		return ErrWrongState
	}
	if c.dataConn == nil {
		return ErrWrongState
	}
	c.dataConn.conn = conn
	c.state = StateOpen
	close(c.openedDataChannel)
	return nil
}

// AwaitOpen blocks until Open is called or ctx is done, whichever comes
// first. PASV's retry-bounded accept loop (spec.md's session registry
// matching, see registry.go) uses this to know when to stop waiting.
func (c *Controller) AwaitOpen(ctx context.Context) error {
	c.mu.Lock()
	ch := c.openedDataChannel
	c.mu.Unlock()
	if ch == nil {
		return ErrWrongState
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin starts the transfer: sends the preliminary reply (the
// unlockModeCodec barrier -- no data byte may precede it), then runs
// work in its own goroutine against the open connection. The returned
// channel receives exactly one Result once work completes, is aborted,
// or the connection is otherwise torn down.
func (c *Controller) Begin(ctx context.Context, sink ReplySink, preliminary reply.Code, message string, work Work) (<-chan Result, error) {
	c.mu.Lock()
	if c.state != StateOpen || c.dataConn == nil || c.dataConn.conn == nil {
		c.mu.Unlock()
		return nil, reply.New(reply.CantOpenDataConn)
	}
	conn := c.dataConn.conn
	c.state = StateTransferring
	transferCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	preEnd := c.preEndOfTransfer
	closed := c.closedDataChannel
	c.mu.Unlock()

	if err := sink.Reply(preliminary, message); err != nil {
		cancel()
		return nil, fmt.Errorf("transfer: sending preliminary reply: %w", err)
	}

	resultCh := make(chan Result, 1)
	go func() {
		n, err := work(transferCtx, conn)

		c.mu.Lock()
		c.state = StatePreEnd
		c.mu.Unlock()
		close(preEnd)

		closeErr := conn.Close()
		if err == nil {
			err = closeErr
		}

		aborted := c.transferAbortedFromInternal.Load()

		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()
		close(closed)

		c.mu.Lock()
		c.dataConn = nil
		if aborted {
			c.state = StateAborted
		} else {
			c.state = StateIdle
		}
		c.mu.Unlock()

		resultCh <- Result{Bytes: n, Err: err, Aborted: aborted}
	}()

	return resultCh, nil
}

// Abort cancels an in-progress transfer: it cancels the Work context and
// closes the underlying connection so a blocked Read/Write unblocks.
// Reports false if no transfer was in progress. Grounded on
// DataNetworkHandler.exceptionCaught's ConnectException/ChannelException
// branch, which marks TransferAbortedFromInternal and lets
// channelClosed's normal wind-down run.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateTransferring {
		return false
	}
	c.transferAbortedFromInternal.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	if c.dataConn != nil && c.dataConn.conn != nil {
		_ = c.dataConn.conn.Close()
	}
	return true
}

// Reset forces the controller back to idle, closing any bound-but-never
// -opened connection. Used when a session abandons a PASV/PORT bind
// without ever transferring (e.g. a second PASV supersedes the first).
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dataConn != nil && c.dataConn.conn != nil {
		_ = c.dataConn.conn.Close()
	}
	c.dataConn = nil
	c.state = StateIdle
}
