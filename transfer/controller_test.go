package transfer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpcore/engine/codec"
	"github.com/ftpcore/engine/reply"
)

// recordingSink records the sequence of replies sent, so tests can assert
// the preliminary reply happens-before any byte movement (the
// unlockModeCodec barrier).
type recordingSink struct {
	mu   sync.Mutex
	sent []reply.Code
}

func (s *recordingSink) Reply(code reply.Code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, code)
	return nil
}

func (s *recordingSink) codes() []reply.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reply.Code, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestControllerBindRejectsWhenBusy(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)

	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	_, err = c.BindPassive(pl)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestControllerOpenRequiresBind(t *testing.T) {
	c := NewController()
	server, client := net.Pipe()
	defer client.Close()
	err := c.Open(server)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestControllerAwaitOpenUnblocksOnOpen(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)
	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.AwaitOpen(ctx)
	}()

	require.NoError(t, c.Open(server))
	require.NoError(t, <-done)
	assert.Equal(t, StateOpen, c.State())
}

func TestControllerAwaitOpenTimesOut(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)
	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.AwaitOpen(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestControllerBeginSendsPreliminaryReplyBeforeWork(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)
	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	server, client := net.Pipe()
	defer client.Close()
	require.NoError(t, c.Open(server))

	sink := &recordingSink{}
	workStarted := make(chan struct{})

	resultCh, err := c.Begin(context.Background(), sink, reply.FileStatusOkay, "opening", func(ctx context.Context, conn net.Conn) (int64, error) {
		close(workStarted)
		buf := make([]byte, 4)
		n, _ := conn.Read(buf)
		return int64(n), nil
	})
	require.NoError(t, err)

	// The preliminary reply must already be recorded before Work begins
	// moving any bytes.
	<-workStarted
	assert.Equal(t, []reply.Code{reply.FileStatusOkay}, sink.codes())

	go client.Write([]byte("data"))
	result := <-resultCh
	assert.False(t, result.Aborted)
	assert.NoError(t, result.Err)
	assert.Equal(t, int64(4), result.Bytes)
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerAbortMarksResultAborted(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)
	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	server, client := net.Pipe()
	defer client.Close()
	require.NoError(t, c.Open(server))

	sink := &recordingSink{}
	workStarted := make(chan struct{})

	resultCh, err := c.Begin(context.Background(), sink, reply.FileStatusOkay, "opening", func(ctx context.Context, conn net.Conn) (int64, error) {
		close(workStarted)
		buf := make([]byte, 1)
		_, err := conn.Read(buf)
		return 0, err
	})
	require.NoError(t, err)
	<-workStarted

	assert.True(t, c.Abort())

	result := <-resultCh
	assert.True(t, result.Aborted)
	assert.Equal(t, StateAborted, c.State())

	// A second Abort on an already-finished transfer reports false.
	assert.False(t, c.Abort())
}

func TestControllerResetClosesUnopenedBind(t *testing.T) {
	c := NewController()
	pl := codec.NewPipeline()
	pl.Reset(codec.ModeStream, codec.TypeImage, codec.StructureFile)
	_, err := c.BindPassive(pl)
	require.NoError(t, err)

	c.Reset()
	assert.Equal(t, StateIdle, c.State())

	// Idle again, so a fresh bind is allowed.
	_, err = c.BindPassive(pl)
	assert.NoError(t, err)
}
