package tracking

import (
	"errors"
	"sync"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
)

const defaultObserverBufferSize = 128

// Handler receives updates for one observer, in publish order.
type Handler func(Update)

// Relay fans published updates out to observer handlers. Each observer owns a
// buffered channel drained by a single goroutine, so delivery keeps per-route
// publish order while the publishing agent never waits on an observer: a full
// buffer drops the update for that observer only. An observer whose port is
// gone, or whose buffer cannot take the finishing update, is detached from
// the route so a finished session always drains.
type Relay struct {
	registry   *Registry
	logger     *logging.Logger
	metrics    *metrics.Registry
	bufferSize int

	mu    sync.RWMutex
	ports map[string]*observerPort
}

type RelayOptions struct {
	Registry           *Registry
	Logger             *logging.Logger
	Metrics            *metrics.Registry
	ObserverBufferSize int
}

func NewRelay(opts RelayOptions) *Relay {
	bufferSize := opts.ObserverBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultObserverBufferSize
	}
	relay := &Relay{
		registry:   opts.Registry,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		bufferSize: bufferSize,
		ports:      make(map[string]*observerPort),
	}
	if relay.metrics == nil {
		relay.metrics = metrics.Default
	}
	return relay
}

type observerPort struct {
	mu     sync.Mutex
	ch     chan Update
	closed bool
}

func (p *observerPort) send(update Update) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- update:
		return true
	default:
		return false
	}
}

func (p *observerPort) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

// RegisterObserver installs the delivery handler for an observer and returns
// a cancel function. Registering again for the same observer replaces the
// previous handler. The handler runs on a dedicated goroutine until cancel.
func (r *Relay) RegisterObserver(observerID string, handler Handler) func() {
	port := &observerPort{
		ch: make(chan Update, r.bufferSize),
	}

	r.mu.Lock()
	if previous, ok := r.ports[observerID]; ok {
		previous.close()
	}
	r.ports[observerID] = port
	r.mu.Unlock()

	go func() {
		for update := range port.ch {
			handler(update)
		}
	}()

	return func() {
		r.mu.Lock()
		if current, ok := r.ports[observerID]; ok && current == port {
			delete(r.ports, observerID)
		}
		r.mu.Unlock()
		port.close()
	}
}

// Deliver publishes one update and fans it out to every observer attached to
// the route. A failed delivery to one observer never fails the call and
// never blocks the others. The registry serializes the fan-out per route, so
// every observer sees the same update order.
func (r *Relay) Deliver(routeID string, position Position, finished bool) error {
	var stale []string

	err := r.registry.Publish(routeID, position, finished, func(observers []string) {
		update := Update{RouteID: routeID, Position: position, Finished: finished}
		for _, observerID := range observers {
			port := r.port(observerID)
			if port == nil {
				stale = append(stale, observerID)
				continue
			}
			if port.send(update) {
				r.metrics.IncUpdateDelivered(routeID)
				continue
			}
			r.metrics.IncUpdateDropped(routeID)
			if update.Finished {
				// The finishing update is the observer's teardown signal;
				// an observer that cannot take it would pin the finished
				// session forever, so it is pruned instead of skipped.
				stale = append(stale, observerID)
				continue
			}
			if r.logger != nil {
				r.logger.Warn("observer buffer full, update dropped", map[string]string{
					"route_id":    routeID,
					"observer_id": observerID,
				})
			}
		}
	})

	// Detach outside Publish: the session is serialized during fan-out and
	// Detach takes the same lock.
	for _, observerID := range stale {
		if r.logger != nil {
			r.logger.Warn("observer unreachable, detaching", map[string]string{
				"route_id":    routeID,
				"observer_id": observerID,
			})
		}
		r.registry.Detach(routeID, observerID)
	}

	if err != nil {
		if r.logger != nil && errors.Is(err, ErrSessionFinished) {
			r.logger.Debug("late update discarded", map[string]string{
				"route_id": routeID,
			})
		}
		return err
	}

	r.metrics.IncUpdatePublished(routeID)
	return nil
}

func (r *Relay) port(observerID string) *observerPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ports[observerID]
}
