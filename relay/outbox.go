package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOutboxClosed is returned by Send after the outbox is closed.
var ErrOutboxClosed = errors.New("outbox closed")

// DefaultReplayBacklog bounds how many live messages a ChanOutbox holds back
// while stored events are replayed.
const DefaultReplayBacklog = 1024

// Outbox queues encoded messages for one connection.
type Outbox interface {
	// TrySend queues msg without blocking. It returns false when the
	// outbox is full or closed.
	TrySend(msg []byte) bool

	// Send queues msg, waiting for room until ctx is done.
	Send(ctx context.Context, msg []byte) error
}

// Replayer is an Outbox that can hold back non-blocking sends while the
// session streams stored events with blocking sends.
type Replayer interface {
	Outbox

	// BeginReplay starts holding back TrySend messages that find the
	// queue full.
	BeginReplay()

	// EndReplay delivers held messages in order, waiting for room until
	// ctx is done, and resumes direct delivery.
	EndReplay(ctx context.Context) error
}

// ChanOutbox is a bounded Outbox backed by a channel. A TrySend that finds
// the queue full closes the outbox: the consumer is too slow and the
// connection is dropped. During a replay such messages wait in a bounded
// backlog instead.
type ChanOutbox struct {
	ch         chan []byte
	done       chan struct{}
	once       sync.Once
	overflowed atomic.Bool

	mu         sync.Mutex
	replaying  int
	draining   bool
	backlog    [][]byte
	maxBacklog int
}

var _ Replayer = (*ChanOutbox)(nil)

// NewChanOutbox returns an outbox holding up to size messages.
func NewChanOutbox(size int) *ChanOutbox {
	if size < 1 {
		size = 1
	}
	return &ChanOutbox{
		ch:         make(chan []byte, size),
		done:       make(chan struct{}),
		maxBacklog: DefaultReplayBacklog,
	}
}

// TrySend implements Outbox.
func (o *ChanOutbox) TrySend(msg []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draining || (o.replaying > 0 && len(o.backlog) > 0) {
		return o.hold(msg)
	}
	select {
	case o.ch <- msg:
		return true
	default:
	}
	if o.replaying > 0 {
		return o.hold(msg)
	}
	o.overflow()
	return false
}

// hold appends msg to the backlog. o.mu must be held.
func (o *ChanOutbox) hold(msg []byte) bool {
	if len(o.backlog) >= o.maxBacklog {
		o.overflow()
		return false
	}
	o.backlog = append(o.backlog, msg)
	return true
}

func (o *ChanOutbox) overflow() {
	o.overflowed.Store(true)
	o.Close()
}

// Send implements Outbox.
func (o *ChanOutbox) Send(ctx context.Context, msg []byte) error {
	select {
	case <-o.done:
		return ErrOutboxClosed
	default:
	}
	select {
	case o.ch <- msg:
		return nil
	case <-o.done:
		return ErrOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginReplay implements Replayer.
func (o *ChanOutbox) BeginReplay() {
	o.mu.Lock()
	o.replaying++
	o.mu.Unlock()
}

// EndReplay implements Replayer. TrySend keeps queueing behind the backlog
// until it is empty, so held and later messages stay in order.
func (o *ChanOutbox) EndReplay(ctx context.Context) error {
	o.mu.Lock()
	if o.replaying > 0 {
		o.replaying--
	}
	if o.replaying > 0 {
		o.mu.Unlock()
		return nil
	}
	o.draining = true
	o.mu.Unlock()

	for {
		o.mu.Lock()
		if len(o.backlog) == 0 || o.replaying > 0 {
			o.draining = false
			o.mu.Unlock()
			return nil
		}
		msg := o.backlog[0]
		o.backlog[0] = nil
		o.backlog = o.backlog[1:]
		o.mu.Unlock()

		if err := o.Send(ctx, msg); err != nil {
			o.mu.Lock()
			o.draining = false
			o.mu.Unlock()
			return err
		}
	}
}

// Messages returns the queue the writer drains.
func (o *ChanOutbox) Messages() <-chan []byte {
	return o.ch
}

// Done is closed once the outbox is closed.
func (o *ChanOutbox) Done() <-chan struct{} {
	return o.done
}

// Close stops accepting messages. It is safe to call more than once.
func (o *ChanOutbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Overflowed reports whether the outbox was closed for being full.
func (o *ChanOutbox) Overflowed() bool {
	return o.overflowed.Load()
}
