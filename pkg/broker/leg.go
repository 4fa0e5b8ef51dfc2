package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callbroker/pkg/types"
)

// ErrLegClosed is returned by Leg methods once the leg has been detached.
var ErrLegClosed = errors.New("broker: leg is closed")

// ErrSlowConsumer is returned by Leg.Send when a blocking-kind envelope
// could not be enqueued before the sustained-block threshold elapsed.
var ErrSlowConsumer = errors.New("broker: leg egress queue blocked past the slow-consumer threshold")

// DefaultReconnectGrace is how long a call waits in CallDraining for a
// disconnected leg to reattach before the session is torn down.
const DefaultReconnectGrace = 30 * time.Second

// DefaultEgressQueueCapacity bounds the per-leg egress queue when no
// override is supplied.
const DefaultEgressQueueCapacity = 256

// slowConsumerThreshold is how long a blocking-kind envelope (transcript,
// coaching, intelligence, control-plane) may wait for queue space before the
// leg is declared a slow consumer and torn down.
const slowConsumerThreshold = 5 * time.Second

// Transport is the minimum duplex envelope stream a leg needs. The
// cmd/callbroker gateway implements it over a websocket.Conn via
// internal/framing; tests substitute an in-memory implementation.
type Transport interface {
	// Send delivers one envelope to the remote end of the leg.
	Send(ctx context.Context, env Envelope) error

	// Recv blocks until the next envelope arrives, ctx is cancelled, or the
	// transport is closed (in which case it returns an error).
	Recv(ctx context.Context) (Envelope, error)

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// Leg is one side of a call: a role, its transport, a bounded egress queue,
// and the bookkeeping the session needs to relay audio and route control
// messages.
type Leg struct {
	Role      types.Role
	transport Transport

	mu             sync.Mutex
	attachedAt     time.Time
	lastActivity   time.Time
	closed         bool
	slowConsumerFn func()

	queue    *egressQueue
	stop     chan struct{}
	wg       sync.WaitGroup
	slowOnce sync.Once
}

// NewLeg wraps transport as the given role's leg, freshly attached, with a
// bounded egress queue of the given capacity (zero/negative selects
// [DefaultEgressQueueCapacity]). The queue's writer goroutine starts
// immediately.
func NewLeg(role types.Role, transport Transport, capacity int) *Leg {
	now := time.Now()
	l := &Leg{
		Role:         role,
		transport:    transport,
		attachedAt:   now,
		lastActivity: now,
		queue:        newEgressQueue(capacity),
		stop:         make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// OnSlowConsumer registers fn to run at most once, the first time this leg's
// egress queue fails to drain a blocking-kind envelope within
// slowConsumerThreshold. fn must not block.
func (l *Leg) OnSlowConsumer(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slowConsumerFn = fn
}

// Send enqueues env for delivery to the leg's transport. Audio envelopes are
// dropped oldest-first when the queue is full; every other kind blocks the
// caller until space frees up, ctx is cancelled, or the leg is declared a
// slow consumer.
func (l *Leg) Send(ctx context.Context, env Envelope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLegClosed
	}
	l.mu.Unlock()

	if env.Kind == KindAudio {
		l.queue.enqueueAudio(env)
		return nil
	}

	if err := l.queue.enqueueBlocking(ctx, env); err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			l.triggerSlowConsumer()
		}
		return fmt.Errorf("broker: leg %s send: %w", l.Role, err)
	}
	return nil
}

// writeLoop drains the egress queue in FIFO order to the transport until the
// leg closes.
func (l *Leg) writeLoop() {
	defer l.wg.Done()
	for {
		env, ok := l.queue.dequeue(l.stop)
		if !ok {
			return
		}
		if err := l.transport.Send(context.Background(), env); err != nil {
			slog.Warn("broker: leg write failed", "role", l.Role, "kind", env.Kind, "err", err)
			continue
		}
		l.touch()
	}
}

func (l *Leg) triggerSlowConsumer() {
	l.slowOnce.Do(func() {
		l.mu.Lock()
		fn := l.slowConsumerFn
		l.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Recv reads the next envelope from the leg's transport and records activity.
func (l *Leg) Recv(ctx context.Context) (Envelope, error) {
	env, err := l.transport.Recv(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("broker: leg %s recv: %w", l.Role, err)
	}
	l.touch()
	return env, nil
}

// Close stops the egress writer and detaches the leg's transport. Safe to
// call more than once.
func (l *Leg) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	l.queue.close()
	l.wg.Wait()
	return l.transport.Close()
}

func (l *Leg) touch() {
	l.mu.Lock()
	l.lastActivity = time.Now()
	l.mu.Unlock()
}

// LastActivity returns when this leg last sent or received an envelope.
func (l *Leg) LastActivity() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActivity
}

// egressQueue is a bounded, mutex-guarded FIFO of envelopes sitting between
// a leg's producers and its single writer goroutine. Audio drops the oldest
// queued frame on overflow; every other kind blocks the producer.
type egressQueue struct {
	mu       sync.Mutex
	items    []Envelope
	capacity int
	closed   bool
	notify   chan struct{}
}

func newEgressQueue(capacity int) *egressQueue {
	if capacity <= 0 {
		capacity = DefaultEgressQueueCapacity
	}
	return &egressQueue{capacity: capacity, notify: make(chan struct{})}
}

// wake closes the current notify channel (waking every blocked waiter) and
// installs a fresh one. Must be called with mu held.
func (q *egressQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *egressQueue) enqueueAudio(env Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, env)
	q.wake()
}

// enqueueBlocking waits for queue space, returning ErrLegClosed if the queue
// closes first or ErrSlowConsumer if slowConsumerThreshold elapses before
// space frees up.
func (q *egressQueue) enqueueBlocking(ctx context.Context, env Envelope) error {
	deadline := time.Now().Add(slowConsumerThreshold)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrLegClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, env)
			q.wake()
			q.mu.Unlock()
			return nil
		}
		waitCh := q.notify
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrSlowConsumer
		}
		timer := time.NewTimer(remaining)
		select {
		case <-waitCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			return ErrSlowConsumer
		}
	}
}

// dequeue blocks until an item is available, the queue closes, or stop
// fires, returning ok=false in the latter two cases.
func (q *egressQueue) dequeue(stop <-chan struct{}) (Envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			q.wake()
			q.mu.Unlock()
			return env, true
		}
		if q.closed {
			q.mu.Unlock()
			return Envelope{}, false
		}
		waitCh := q.notify
		q.mu.Unlock()

		select {
		case <-waitCh:
		case <-stop:
			return Envelope{}, false
		}
	}
}

func (q *egressQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}
