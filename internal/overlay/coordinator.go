// Package overlay keeps the observer-local state of each watched route: the
// current-position marker, the destination marker, the rendered path, and
// the viewport covering everything on screen.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/planner"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

// ErrOverlayExists is the render-layer form of a duplicate watch.
var ErrOverlayExists = errors.New("overlay already exists for route")

// Notifier receives the one-time route finished notice.
type Notifier interface {
	RouteFinished(routeID string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(routeID string)

func (f NotifierFunc) RouteFinished(routeID string) {
	f(routeID)
}

// Overlay is the render state of one observation.
type Overlay struct {
	RouteID string
	Color   string
	Current tracking.Position
	End     tracking.Position
	Path    planner.Path
}

// Coordinator owns the overlays of one observer. Creation requests the path
// from the planner asynchronously so an in-flight plan never delays position
// deliveries; a planning failure leaves the overlay with markers only.
type Coordinator struct {
	planner  planner.Planner
	notifier Notifier
	logger   *logging.Logger

	mu       sync.Mutex
	overlays map[string]*overlayState
	viewport Bounds
	colors   palette
	ctx      context.Context
	cancel   context.CancelFunc
}

type overlayState struct {
	overlay Overlay
	hasLast bool
	last    tracking.Position
}

type CoordinatorOptions struct {
	Planner  planner.Planner
	Notifier Notifier
	Logger   *logging.Logger
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	coordinator := &Coordinator{
		planner:  opts.Planner,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		overlays: make(map[string]*overlayState),
		ctx:      ctx,
		cancel:   cancel,
	}
	if coordinator.planner == nil {
		coordinator.planner = planner.StraightLine{}
	}
	return coordinator
}

// Create allocates the overlay for a route: both markers placed, path
// requested from the planner in the background, viewport recomputed.
func (c *Coordinator) Create(routeID string, start, end tracking.Position) error {
	c.mu.Lock()
	if _, exists := c.overlays[routeID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOverlayExists, routeID)
	}
	state := &overlayState{
		overlay: Overlay{
			RouteID: routeID,
			Color:   c.colors.next(),
			Current: start,
			End:     end,
		},
	}
	c.overlays[routeID] = state
	c.recomputeViewportLocked()
	c.mu.Unlock()

	go c.plan(routeID, state, start, end)
	return nil
}

// plan runs the path request off the delivery path and attaches the result
// only when the overlay is still the one that requested it.
func (c *Coordinator) plan(routeID string, state *overlayState, start, end tracking.Position) {
	path, err := c.planner.Plan(c.ctx, start, end)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("path planning failed, overlay degraded to markers", map[string]string{
				"route_id": routeID,
				"error":    err.Error(),
			})
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, exists := c.overlays[routeID]; exists && current == state {
		current.overlay.Path = path
	}
}

// Move advances the current-position marker. Deliveries for a removed
// overlay and duplicates of the last applied position are dropped silently.
func (c *Coordinator) Move(routeID string, position tracking.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, exists := c.overlays[routeID]
	if !exists {
		return
	}
	if state.hasLast && state.last == position {
		return
	}
	state.last = position
	state.hasLast = true
	state.overlay.Current = position
}

// Remove discards the overlay and fires the one-time finished notice. A
// second remove for the same route is a no-op. Teardown that is not a real
// route finish uses Discard instead.
func (c *Coordinator) Remove(routeID string) {
	if c.discard(routeID) && c.notifier != nil {
		c.notifier.RouteFinished(routeID)
	}
}

// Discard drops the overlay without the finished notice. Used when a watch
// is cancelled or a connection is lost, where the route itself did not end.
func (c *Coordinator) Discard(routeID string) {
	c.discard(routeID)
}

func (c *Coordinator) discard(routeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.overlays[routeID]; !exists {
		return false
	}
	delete(c.overlays, routeID)
	c.recomputeViewportLocked()
	return true
}

// Get returns a copy of the overlay for a route.
func (c *Coordinator) Get(routeID string) (Overlay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.overlays[routeID]
	if !exists {
		return Overlay{}, false
	}
	return state.overlay, true
}

// Len returns the number of active overlays.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overlays)
}

// Viewport returns the bounds covering every overlay's current and end
// positions. Zero value when no overlays remain.
func (c *Coordinator) Viewport() Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// Close cancels in-flight planning requests.
func (c *Coordinator) Close() {
	c.cancel()
}

func (c *Coordinator) recomputeViewportLocked() {
	if len(c.overlays) == 0 {
		c.viewport = Bounds{}
		return
	}
	bounds := Bounds{}
	for _, state := range c.overlays {
		bounds.Extend(state.overlay.Current)
		bounds.Extend(state.overlay.End)
	}
	c.viewport = bounds
}
