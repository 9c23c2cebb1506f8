package engine

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/types"
)

// EventType names a controller event
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventOutputReceived   EventType = "output_received"
	EventElapsedTick      EventType = "elapsed_tick"
	EventTargetsRefreshed EventType = "targets_refreshed"
)

// Event is delivered to subscribers in the order the controller produced it
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time

	// State is set for EventStateChanged
	State types.BuildState
	// Result is the session snapshot taken at the transition (EventStateChanged)
	Result types.Result
	// Data holds output bytes (EventOutputReceived). Shared between subscribers; do not modify.
	Data []byte
	// Elapsed is the session duration (EventElapsedTick)
	Elapsed time.Duration
	// Targets lists resolved target names (EventTargetsRefreshed)
	Targets []string
}

// Subscriber receives controller events. Subscribers run on a single
// dispatcher goroutine and may call back into the controller.
type Subscriber func(Event)

// eventBus queues events under the publisher's lock and delivers them from
// one goroutine, so subscribers see a total order without holding the
// controller mutex.
type eventBus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	subs   []subscription
	nextID uint64
	closed bool
	done   chan struct{}
	logger logger.Logger
}

type subscription struct {
	id uint64
	fn Subscriber
}

func newEventBus(log logger.Logger) *eventBus {
	b := &eventBus{
		done:   make(chan struct{}),
		logger: log,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

func (b *eventBus) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, e)
	b.cond.Signal()
}

func (b *eventBus) subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *eventBus) dispatch() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		subs := b.subs
		b.mu.Unlock()

		for _, s := range subs {
			b.deliver(s.fn, e)
		}
	}
}

func (b *eventBus) deliver(fn Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panic recovered",
				logger.WithField("event", e.Type),
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
		}
	}()
	fn(e)
}

// close stops accepting events, delivers what is queued and waits for the dispatcher
func (b *eventBus) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}
