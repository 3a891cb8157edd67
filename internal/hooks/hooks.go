// Package hooks binds client calls to a caller-owned lifecycle. Each hook
// instance tracks loading and error state for its calls, cancels a call when a
// newer one starts, and cancels everything on Close. A call that has been
// superseded or torn down never touches the hook's state.
package hooks

import (
	"context"
	"errors"
	"sync"

	"github.com/groupbuy/groupbuy-client/internal/result"
)

// ErrNoMoreData is returned by LoadMore when the last page has been loaded.
var ErrNoMoreData = errors.New("no more data")

// Connectivity is the network signal hooks observe. network.Monitor
// satisfies it.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// State is a snapshot of a hook's caller-visible state.
type State[T any] struct {
	Data T
	// Loaded is true once a call has completed successfully.
	Loaded    bool
	Loading   bool
	Err       error
	Message   string
	Cancelled bool
	Queued    bool
	FromCache bool
	Online    bool
}

type settings struct {
	network Connectivity
}

type Option func(*settings)

// WithNetwork subscribes the hook to connectivity changes. Without it the
// hook assumes it is always online.
func WithNetwork(c Connectivity) Option {
	return func(s *settings) { s.network = c }
}

// tracker owns the pending operation of one hook: the generation of the live
// call, its cancel func, and the state that completions are applied to.
type tracker[T any] struct {
	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
	state   State[T]
	network Connectivity

	unsubscribe func()
	watching    chan struct{}
}

func newTracker[T any](opts []Option) *tracker[T] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	t := &tracker[T]{network: s.network}
	t.state.Online = true

	if s.network != nil {
		t.state.Online = s.network.Online()
		ch, unsubscribe := s.network.Subscribe()
		t.unsubscribe = unsubscribe
		t.watching = make(chan struct{})
		go t.watch(ch)
	}

	return t
}

func (t *tracker[T]) watch(ch <-chan bool) {
	defer close(t.watching)
	for online := range ch {
		t.mu.Lock()
		t.state.Online = online
		t.mu.Unlock()
	}
}

func (t *tracker[T]) online() bool {
	if t.network == nil {
		return true
	}
	return t.network.Online()
}

// begin starts a new call, cancelling any call still in flight. It returns
// false once the hook is closed.
func (t *tracker[T]) begin(parent context.Context) (context.Context, uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, 0, false
	}

	if t.cancel != nil {
		t.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	t.gen++
	t.cancel = cancel

	t.state.Loading = true
	t.state.Err = nil
	t.state.Message = ""
	t.state.Cancelled = false
	t.state.Queued = false

	return ctx, t.gen, true
}

// finish applies a completed call to the state if it is still the live call.
// apply runs under the hook's lock and only for successful results.
func (t *tracker[T]) finish(gen uint64, res result.Result[T], apply func(*State[T], T)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || gen != t.gen {
		return false
	}

	t.cancel()
	t.cancel = nil
	t.state.Loading = false
	t.state.Message = res.Message()
	t.state.FromCache = res.FromCache()

	switch {
	case res.Succeeded():
		data, _ := res.Data()
		apply(&t.state, data)
		t.state.Loaded = true
	case res.Cancelled():
		t.state.Cancelled = true
	case res.Queued():
		t.state.Queued = true
		t.state.Err = res.Err()
	default:
		t.state.Err = res.Err()
	}

	return true
}

func (t *tracker[T]) snapshot() State[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// close cancels the live call and stops observing the network. Safe to call
// more than once.
func (t *tracker[T]) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state.Loading = false
	t.mu.Unlock()

	if t.unsubscribe != nil {
		t.unsubscribe()
		<-t.watching
	}
}

func replace[T any](s *State[T], data T) {
	s.Data = data
}
