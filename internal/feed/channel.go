package feed

import (
	"sort"
	"sync"

	"github.com/gratialabs/gratia/internal/entity"
	"go.uber.org/zap"
)

// Listener receives broadcast change events.
type Listener func(entity.Event)

// Channel is the typed publish/subscribe bus connecting the engine to every
// rendered fragment. It holds no state beyond its subscriber table: events
// are fanned out synchronously and discarded.
type Channel struct {
	mu          sync.RWMutex
	subscribers map[entity.EventKind]map[int64]Listener
	nextID      int64
	logger      *zap.Logger
}

// NewChannel constructs an empty event channel.
func NewChannel(logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		subscribers: make(map[entity.EventKind]map[int64]Listener),
		logger:      logger,
	}
}

// Subscribe registers the listener for one event kind and returns a disposer.
// Calling the disposer more than once is a no-op.
func (c *Channel) Subscribe(kind entity.EventKind, listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	subscriberID := c.nextID
	if _, ok := c.subscribers[kind]; !ok {
		c.subscribers[kind] = make(map[int64]Listener)
	}
	c.subscribers[kind][subscriberID] = listener
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.unsubscribe(kind, subscriberID)
		})
	}
}

// SubscribeAll registers the listener for every known event kind and returns
// a single disposer that unwinds all of the registrations.
func (c *Channel) SubscribeAll(listener Listener) func() {
	kinds := entity.EventKinds()
	disposers := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		disposers = append(disposers, c.Subscribe(kind, listener))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, dispose := range disposers {
				dispose()
			}
		})
	}
}

// Emit delivers the event to every listener registered for its kind at the
// moment of emission, in registration order. A listener added during delivery
// does not receive the in-flight event. A panicking listener is logged and
// skipped; it never interrupts delivery to the remaining listeners.
func (c *Channel) Emit(event entity.Event) {
	if event == nil {
		return
	}
	kind := event.EventKind()

	c.mu.RLock()
	registered := c.subscribers[kind]
	if len(registered) == 0 {
		c.mu.RUnlock()
		return
	}
	order := make([]int64, 0, len(registered))
	for subscriberID := range registered {
		order = append(order, subscriberID)
	}
	snapshot := make(map[int64]Listener, len(registered))
	for subscriberID, listener := range registered {
		snapshot[subscriberID] = listener
	}
	c.mu.RUnlock()

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, subscriberID := range order {
		c.deliver(snapshot[subscriberID], event, kind)
	}
}

func (c *Channel) deliver(listener Listener, event entity.Event, kind entity.EventKind) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("event listener panicked",
				zap.String("event_kind", string(kind)),
				zap.Any("panic", recovered))
		}
	}()
	listener(event)
}

func (c *Channel) unsubscribe(kind entity.EventKind, subscriberID int64) {
	c.mu.Lock()
	registered := c.subscribers[kind]
	if registered != nil {
		delete(registered, subscriberID)
		if len(registered) == 0 {
			delete(c.subscribers, kind)
		}
	}
	c.mu.Unlock()
}
