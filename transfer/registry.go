package transfer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default retry parameters for Registry.Match, named after
// original_source's FtpInternalConfiguration.RETRYNB/RETRYINMS: the
// number of attempts and the sleep between them that
// DataNetworkHandler.channelConnected uses while waiting for the
// session table to catch up with a just-accepted data connection.
const (
	DefaultMatchRetries = 5
	DefaultMatchDelay   = 10 * time.Millisecond
)

// ErrNoMatch is returned by Match when no session claims the key within
// the retry budget.
var ErrNoMatch = errors.New("transfer: no session matched incoming data connection")

// Registry matches an inbound data connection on a shared passive
// listener (engine.WithSharedPassiveListener) back to the session
// Controller expecting it. Most deployments instead give each session
// its own listener (per-session PASV), which needs no registry at all;
// Registry exists for the shared-listener mode, where one accept loop
// serves every session and must dispatch each connection to the right
// one.
//
// Grounded on DataNetworkHandler.channelConnected, which looks the
// incoming channel up in the shared configuration's session table,
// retrying a bounded number of times with a short sleep to absorb the
// race between a PASV reply reaching the client and the session
// recording its own expectation.
type Registry struct {
	mu      sync.Mutex
	waiting map[string]*Controller
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{waiting: make(map[string]*Controller)}
}

// Register records that ctrl is expecting the next data connection
// identified by key (typically the control connection's remote IP, or
// IP+port for EPSV's extended addressing). Overwrites any previous
// registration under the same key.
func (r *Registry) Register(key string, ctrl *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting[key] = ctrl
}

// Unregister removes a pending registration, e.g. when a session's bind
// is superseded or abandoned before a connection arrives.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, key)
}

func (r *Registry) lookup(key string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.waiting[key]
	return c, ok
}

// Match resolves key to the Controller awaiting it, retrying up to
// retries times with a delay between attempts, then returns ErrNoMatch.
// A zero retries value uses DefaultMatchRetries/DefaultMatchDelay.
func (r *Registry) Match(ctx context.Context, key string, retries int, delay time.Duration) (*Controller, error) {
	if retries <= 0 {
		retries = DefaultMatchRetries
	}
	if delay <= 0 {
		delay = DefaultMatchDelay
	}

	for attempt := 0; attempt < retries; attempt++ {
		if ctrl, ok := r.lookup(key); ok {
			r.Unregister(key)
			return ctrl, nil
		}
		if attempt == retries-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, ErrNoMatch
}
