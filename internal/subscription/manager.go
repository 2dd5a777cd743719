// Package subscription holds the per-observer watch lifecycle: starting and
// stopping observation of routes, applying relayed updates, and cleaning up
// when the observer disconnects.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

var (
	// ErrAlreadyWatching is the observer-visible form of a duplicate
	// observation: the route was already added, wait for it to finish.
	ErrAlreadyWatching = errors.New("route already watched")

	// ErrDetached is returned once the manager has been disconnected.
	ErrDetached = errors.New("observer detached")
)

// Receiver consumes the updates the manager accepts for its observer. Apply
// is called in delivery order; Finish is called exactly once per watched
// route after its finishing update, once teardown may proceed.
type Receiver interface {
	Apply(update tracking.Update)
	Finish(routeID string)
}

// Manager is the per-observer state machine. A route moves Idle -> Watching
// on StartWatching and back to Idle on StopWatching or a finished delivery;
// Detach moves the whole manager to its terminal state.
type Manager struct {
	observerID string
	registry   *tracking.Registry
	relay      *tracking.Relay
	receiver   Receiver
	logger     *logging.Logger

	mu       sync.Mutex
	watched  map[string]tracking.Endpoints
	detached bool
	cancel   func()
}

type ManagerOptions struct {
	ObserverID string
	Registry   *tracking.Registry
	Relay      *tracking.Relay
	Receiver   Receiver
	Logger     *logging.Logger
}

func NewManager(opts ManagerOptions) *Manager {
	manager := &Manager{
		observerID: opts.ObserverID,
		registry:   opts.Registry,
		relay:      opts.Relay,
		receiver:   opts.Receiver,
		logger:     opts.Logger,
		watched:    make(map[string]tracking.Endpoints),
	}
	manager.cancel = opts.Relay.RegisterObserver(opts.ObserverID, manager.OnDelivery)
	return manager
}

func (m *Manager) ObserverID() string {
	return m.observerID
}

// StartWatching begins observation of a route. The first watcher implicitly
// opens the tracking session; later watchers attach to it. A second start
// for a route this observer already watches fails with ErrAlreadyWatching.
func (m *Manager) StartWatching(ctx context.Context, routeID string) (tracking.AttachInfo, error) {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return tracking.AttachInfo{}, ErrDetached
	}
	if _, watching := m.watched[routeID]; watching {
		m.mu.Unlock()
		return tracking.AttachInfo{}, fmt.Errorf("%w: %s", ErrAlreadyWatching, routeID)
	}
	m.mu.Unlock()

	if _, err := m.registry.OpenSession(ctx, routeID); err != nil && !errors.Is(err, tracking.ErrSessionAlreadyActive) {
		return tracking.AttachInfo{}, err
	}

	info, err := m.registry.Attach(routeID, m.observerID)
	if err != nil {
		if errors.Is(err, tracking.ErrDuplicateObservation) {
			// The registry guard caught a concurrent start for the
			// same route, e.g. from a stacked reconnect.
			return tracking.AttachInfo{}, fmt.Errorf("%w: %s", ErrAlreadyWatching, routeID)
		}
		return tracking.AttachInfo{}, err
	}

	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		m.registry.Detach(routeID, m.observerID)
		return tracking.AttachInfo{}, ErrDetached
	}
	m.watched[routeID] = info.Endpoints
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("watching route", map[string]string{
			"route_id":    routeID,
			"observer_id": m.observerID,
		})
	}
	return info, nil
}

// StopWatching ends observation of a route. Idempotent; also effective for
// future deliveries while a finished teardown is still in flight.
func (m *Manager) StopWatching(routeID string) {
	m.mu.Lock()
	_, watching := m.watched[routeID]
	delete(m.watched, routeID)
	m.mu.Unlock()

	m.registry.Detach(routeID, m.observerID)
	if watching && m.logger != nil {
		m.logger.Info("stopped watching route", map[string]string{
			"route_id":    routeID,
			"observer_id": m.observerID,
		})
	}
}

// OnDelivery applies one relayed update. Updates for routes this observer no
// longer watches are dropped silently. A finished update tears the watch
// down: the receiver confirms teardown via Finish before the observation is
// released.
func (m *Manager) OnDelivery(update tracking.Update) {
	m.mu.Lock()
	_, watching := m.watched[update.RouteID]
	detached := m.detached
	m.mu.Unlock()
	if detached || !watching {
		return
	}

	if m.receiver != nil {
		m.receiver.Apply(update)
	}
	if !update.Finished {
		return
	}

	if m.receiver != nil {
		m.receiver.Finish(update.RouteID)
	}
	m.StopWatching(update.RouteID)
	m.registry.CloseSession(update.RouteID)
}

// OnDisconnect releases every observation this observer holds. It must run
// before any reconnect logic resubscribes, so observations cannot stack.
func (m *Manager) OnDisconnect() {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return
	}
	m.detached = true
	routes := make([]string, 0, len(m.watched))
	for routeID := range m.watched {
		routes = append(routes, routeID)
	}
	m.watched = make(map[string]tracking.Endpoints)
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, routeID := range routes {
		m.registry.Detach(routeID, m.observerID)
	}
	if len(routes) > 0 && m.logger != nil {
		m.logger.Info("observer disconnected, observations released", map[string]string{
			"observer_id": m.observerID,
		})
	}
}

// Watched lists the routes currently observed.
func (m *Manager) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	routes := make([]string, 0, len(m.watched))
	for routeID := range m.watched {
		routes = append(routes, routeID)
	}
	return routes
}
