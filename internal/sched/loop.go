// Package sched provides the single-threaded cooperative event loop that
// drives the BFD engine: armed timers, work posted from other goroutines,
// and OS signals delivered as ordinary loop events.
//
// Every callback runs to completion on the loop goroutine before the next
// event is dispatched. Protocol state touched only from callbacks therefore
// needs no locking.
package sched

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"time"
)

// ErrLoopClosed indicates work was submitted to a loop that has stopped.
var ErrLoopClosed = errors.New("event loop closed")

// postQueueDepth sizes the cross-goroutine work queue. Producers are the
// socket readers and the monitor server; a full queue applies backpressure
// rather than dropping work.
const postQueueDepth = 256

// Loop is a single-goroutine event loop multiplexing timers, posted work,
// and OS signals.
//
// Timer methods (Schedule, and Timer.Reset/Stop) may only be called from
// the loop goroutine, i.e. from within a callback. Other goroutines hand
// work to the loop with Post or Call.
type Loop struct {
	logger *slog.Logger

	timers timerHeap

	work  chan func()
	sigCh chan os.Signal

	handlers map[os.Signal]func()

	// now is replaced in tests.
	now func() time.Time

	done chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates an event loop. Call Run to start it.
func New(opts ...Option) *Loop {
	l := &Loop{
		logger:   slog.Default(),
		work:     make(chan func(), postQueueDepth),
		sigCh:    make(chan os.Signal, 8),
		handlers: make(map[os.Signal]func()),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnSignal registers a callback delivered on the loop goroutine when sig
// arrives. Must be called before Run.
func (l *Loop) OnSignal(sig os.Signal, fn func()) {
	l.handlers[sig] = fn
	signal.Notify(l.sigCh, sig)
}

// Post hands fn to the loop for asynchronous execution. Safe to call from
// any goroutine. Returns ErrLoopClosed after the loop has stopped.
func (l *Loop) Post(fn func()) error {
	// The work queue is buffered, so a stopped loop could still accept
	// the send; check for shutdown first.
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.work <- fn:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Call runs fn on the loop goroutine and waits for it to finish. Safe to
// call from any goroutine EXCEPT the loop goroutine itself, where it would
// deadlock; loop callbacks call functions directly instead.
func (l *Loop) Call(fn func()) error {
	ch := make(chan struct{})
	err := l.Post(func() {
		defer close(ch)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Run drives the loop until ctx is canceled. It must be called exactly
// once; the calling goroutine becomes the loop goroutine.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer signal.Stop(l.sigCh)

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		var wakeCh <-chan time.Time
		if next, ok := l.nextDeadline(); ok {
			d := next.Sub(l.now())
			if d <= 0 {
				l.fireDue()
				continue
			}
			wake.Reset(d)
			wakeCh = wake.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.work:
			stopWake(wake, wakeCh)
			fn()
		case sig := <-l.sigCh:
			stopWake(wake, wakeCh)
			if fn, ok := l.handlers[sig]; ok {
				l.logger.Debug("dispatching signal", "signal", sig.String())
				fn()
			}
		case <-wakeCh:
			l.fireDue()
		}
	}
}

// stopWake drains the wake timer after a non-timer event won the select.
func stopWake(wake *time.Timer, armed <-chan time.Time) {
	if armed == nil {
		return
	}
	if !wake.Stop() {
		select {
		case <-wake.C:
		default:
		}
	}
}

// nextDeadline returns the earliest armed timer deadline.
func (l *Loop) nextDeadline() (time.Time, bool) {
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

// fireDue pops and runs every timer whose deadline has passed. Callbacks
// may rearm timers; the deadline snapshot is re-read each iteration.
func (l *Loop) fireDue() {
	now := l.now()
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		t.armed = false
		t.fn()
	}
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

// Timer is a deadline armed on a Loop. All methods are loop-goroutine only.
type Timer struct {
	loop  *Loop
	fn    func()
	when  time.Time
	index int
	armed bool
}

// Schedule arms fn to run after d on the loop goroutine.
func (l *Loop) Schedule(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn, when: l.now().Add(d), armed: true}
	heap.Push(&l.timers, t)
	return t
}

// Reset rearms the timer to fire after d, implicitly canceling the
// previous pending deadline.
func (t *Timer) Reset(d time.Duration) {
	t.when = t.loop.now().Add(d)
	t.armed = true
	if t.index >= 0 {
		heap.Fix(&t.loop.timers, t.index)
		return
	}
	heap.Push(&t.loop.timers, t)
}

// Stop cancels the pending deadline. A stopped timer may be rearmed with
// Reset.
func (t *Timer) Stop() {
	t.armed = false
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
}

// Armed reports whether the timer has a pending deadline.
func (t *Timer) Armed() bool {
	return t.armed
}

// Deadline returns the pending fire time. Meaningful only while armed.
func (t *Timer) Deadline() time.Time {
	return t.when
}

// timerHeap is a min-heap of timers ordered by deadline.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
