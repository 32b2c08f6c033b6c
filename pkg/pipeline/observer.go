package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives progress and failure notifications from a run.
// Calls happen on a dedicated goroutine, in the order the events occurred.
type Observer interface {
	// OnProgress reports the fraction of identifiers resolved, in [0,1].
	OnProgress(fraction float64)

	// OnError reports one failure record as it is produced.
	OnError(message string)
}

// StateObserver is an Observer that also wants lifecycle transitions.
type StateObserver interface {
	Observer
	OnStateChange(state State)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(fraction float64)
	Error    func(message string)
	State    func(state State)
}

// OnProgress implements Observer.
func (f ObserverFuncs) OnProgress(fraction float64) {
	if f.Progress != nil {
		f.Progress(fraction)
	}
}

// OnError implements Observer.
func (f ObserverFuncs) OnError(message string) {
	if f.Error != nil {
		f.Error(message)
	}
}

// OnStateChange implements StateObserver.
func (f ObserverFuncs) OnStateChange(state State) {
	if f.State != nil {
		f.State(state)
	}
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventError
	eventState
)

type event struct {
	kind     eventKind
	fraction float64
	message  string
	state    State
}

// notifier queues events without blocking the poster and delivers them to
// one Observer from a single goroutine.
type notifier struct {
	obs    Observer
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(obs Observer, logger zerolog.Logger) *notifier {
	n := &notifier{
		obs:    obs,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if obs == nil {
		close(n.done)
		return n
	}
	go n.loop()
	return n
}

func (n *notifier) post(e event) {
	if n.obs == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, e)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) progress(fraction float64) {
	n.post(event{kind: eventProgress, fraction: fraction})
}

func (n *notifier) failure(f FailureRecord) {
	n.post(event{kind: eventError, message: f.String()})
}

func (n *notifier) state(s State) {
	n.post(event{kind: eventState, state: s})
}

func (n *notifier) loop() {
	defer close(n.done)
	for range n.wake {
		for {
			n.mu.Lock()
			batch := n.queue
			n.queue = nil
			closed := n.closed
			n.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, e := range batch {
				n.deliver(e)
			}
		}
	}
}

func (n *notifier) deliver(e event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Msg("Observer panicked")
		}
	}()

	switch e.kind {
	case eventProgress:
		n.obs.OnProgress(e.fraction)
	case eventError:
		n.obs.OnError(e.message)
	case eventState:
		if so, ok := n.obs.(StateObserver); ok {
			so.OnStateChange(e.state)
		}
	}
}

// close stops accepting events and waits up to timeout for queued events to
// be delivered. It reports whether the queue drained in time.
func (n *notifier) close(timeout time.Duration) bool {
	if n.obs == nil {
		return true
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return true
	}
	n.closed = true
	pending := len(n.queue)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}

	select {
	case <-n.done:
		return true
	case <-time.After(timeout):
		n.logger.Warn().
			Int("pending", pending).
			Dur("timeout", timeout).
			Msg("Observer did not drain in time")
		return false
	}
}
