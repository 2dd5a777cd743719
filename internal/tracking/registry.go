package tracking

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
)

type sessionStatus int

const (
	sessionActive sessionStatus = iota
	sessionFinished
)

func (s sessionStatus) String() string {
	if s == sessionFinished {
		return "finished"
	}
	return "active"
}

// session is the authoritative state of one tracked route. Every mutation
// runs under the session mutex; sessions for different routes share nothing,
// so publishes on different routes never contend.
type session struct {
	mu        sync.Mutex
	routeID   string
	endpoints Endpoints
	status    sessionStatus
	last      Position
	hasLast   bool
	observers map[string]struct{}
}

// Registry holds every route currently being tracked. The registry map is
// guarded by a read-write mutex for lookup and insert; all session state
// changes are serialized per route by the session's own mutex. The duplicate
// observation and exactly-once finish invariants are enforced here, at the
// single choke point, rather than in observer-side code.
type Registry struct {
	source  RouteSource
	logger  *logging.Logger
	metrics *metrics.Registry

	mu       sync.RWMutex
	sessions map[string]*session
}

type RegistryOptions struct {
	Source  RouteSource
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

func NewRegistry(opts RegistryOptions) *Registry {
	registry := &Registry{
		source:   opts.Source,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		sessions: make(map[string]*session),
	}
	if registry.metrics == nil {
		registry.metrics = metrics.Default
	}
	return registry
}

// OpenSession creates the tracking session for a route. It fails with
// ErrSessionAlreadyActive when a session exists, without side effects. A
// session still draining after finish also blocks a reopen until its last
// observer detaches.
func (r *Registry) OpenSession(ctx context.Context, routeID string) (Endpoints, error) {
	if routeID == "" {
		return Endpoints{}, fmt.Errorf("%w: empty route id", ErrUnknownRoute)
	}

	endpoints, err := r.resolveEndpoints(ctx, routeID)
	if err != nil {
		return Endpoints{}, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[routeID]; exists {
		r.mu.Unlock()
		return Endpoints{}, fmt.Errorf("%w: route %s", ErrSessionAlreadyActive, routeID)
	}
	r.sessions[routeID] = &session{
		routeID:   routeID,
		endpoints: endpoints,
		observers: make(map[string]struct{}),
	}
	r.mu.Unlock()

	r.metrics.IncSessionOpened()
	if r.logger != nil {
		r.logger.Info("tracking session opened", map[string]string{
			"route_id": routeID,
		})
	}
	return endpoints, nil
}

// AttachInfo describes the session an observer just attached to. Last is the
// most recent published position, nil when the agent has not reported yet; a
// late-attaching observer uses it to prime its overlay.
type AttachInfo struct {
	Endpoints Endpoints
	Last      *Position
}

// Attach adds the observer to the route's observer set. It fails with
// ErrNoSuchSession when the route is not tracked and ErrDuplicateObservation
// when the observer is already attached.
func (r *Registry) Attach(routeID, observerID string) (AttachInfo, error) {
	sess := r.lookup(routeID)
	if sess == nil {
		return AttachInfo{}, fmt.Errorf("%w: route %s", ErrNoSuchSession, routeID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status == sessionFinished {
		return AttachInfo{}, fmt.Errorf("%w: route %s", ErrSessionFinished, routeID)
	}
	if _, attached := sess.observers[observerID]; attached {
		return AttachInfo{}, fmt.Errorf("%w: observer %s, route %s", ErrDuplicateObservation, observerID, routeID)
	}
	sess.observers[observerID] = struct{}{}

	info := AttachInfo{Endpoints: sess.endpoints}
	if sess.hasLast {
		last := sess.last
		info.Last = &last
	}

	r.metrics.IncObserverAttached()
	if r.logger != nil {
		r.logger.Debug("observer attached", map[string]string{
			"route_id":    routeID,
			"observer_id": observerID,
		})
	}
	return info, nil
}

// Detach removes the observer from the route's observer set. It is
// idempotent: detaching an absent observer or an unknown route is a no-op.
// When the last observer leaves a finished session the session is destroyed.
func (r *Registry) Detach(routeID, observerID string) {
	sess := r.lookup(routeID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	_, attached := sess.observers[observerID]
	if attached {
		delete(sess.observers, observerID)
	}
	drained := sess.status == sessionFinished && len(sess.observers) == 0
	sess.mu.Unlock()

	if attached {
		r.metrics.IncObserverDetached()
		if r.logger != nil {
			r.logger.Debug("observer detached", map[string]string{
				"route_id":    routeID,
				"observer_id": observerID,
			})
		}
	}
	if drained {
		r.CloseSession(routeID)
	}
}

// Publish records a position update and hands the observer snapshot to
// deliver while the session is still serialized: no other publish for the
// route can run between reading the observer set and flipping the status, so
// a finishing update is observed exactly once and nothing lands after it.
func (r *Registry) Publish(routeID string, position Position, finished bool, deliver func(observers []string)) error {
	sess := r.lookup(routeID)
	if sess == nil {
		return fmt.Errorf("%w: route %s", ErrNoSuchSession, routeID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.status == sessionFinished {
		return fmt.Errorf("%w: route %s", ErrSessionFinished, routeID)
	}

	sess.last = position
	sess.hasLast = true
	if finished {
		sess.status = sessionFinished
		r.metrics.IncSessionFinished()
		if r.logger != nil {
			r.logger.Info("tracking session finished", map[string]string{
				"route_id":  routeID,
				"observers": strconv.Itoa(len(sess.observers)),
			})
		}
	}

	if deliver != nil {
		observers := make([]string, 0, len(sess.observers))
		for observerID := range sess.observers {
			observers = append(observers, observerID)
		}
		deliver(observers)
	}
	return nil
}

// CloseSession removes the session once no observers remain attached. Safe
// to call any number of times, also for routes that were never tracked.
func (r *Registry) CloseSession(routeID string) {
	r.mu.Lock()
	sess, exists := r.sessions[routeID]
	if exists {
		sess.mu.Lock()
		if len(sess.observers) > 0 {
			sess.mu.Unlock()
			r.mu.Unlock()
			return
		}
		sess.mu.Unlock()
		delete(r.sessions, routeID)
	}
	r.mu.Unlock()

	if exists {
		r.metrics.IncSessionClosed()
		if r.logger != nil {
			r.logger.Info("tracking session closed", map[string]string{
				"route_id": routeID,
			})
		}
	}
}

// SessionInfo is a point-in-time view of a session for status reporting.
type SessionInfo struct {
	RouteID   string    `json:"route_id"`
	Status    string    `json:"status"`
	Observers int       `json:"observers"`
	Last      *Position `json:"last_position,omitempty"`
}

// Sessions lists all current sessions sorted by route id.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		info := SessionInfo{
			RouteID:   sess.routeID,
			Status:    sess.status.String(),
			Observers: len(sess.observers),
		}
		if sess.hasLast {
			last := sess.last
			info.Last = &last
		}
		sess.mu.Unlock()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].RouteID < infos[j].RouteID
	})
	return infos
}

func (r *Registry) lookup(routeID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[routeID]
}

func (r *Registry) resolveEndpoints(ctx context.Context, routeID string) (Endpoints, error) {
	if r.source == nil {
		return Endpoints{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoints, err := r.source.Endpoints(ctx, routeID)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: route %s: %v", ErrUnknownRoute, routeID, err)
	}
	return endpoints, nil
}
