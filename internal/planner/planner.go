// Package planner computes a renderable path between two positions. Planning
// is a best-effort collaborator: a failure degrades the overlay to markers
// without a path and is never fatal.
package planner

import (
	"context"
	"errors"

	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

// ErrPlanningFailure wraps any error from a planning backend.
var ErrPlanningFailure = errors.New("path planning failed")

// Path is the polyline to render between a route's endpoints.
type Path []tracking.Position

// Planner computes a path from origin to destination.
type Planner interface {
	Plan(ctx context.Context, origin, destination tracking.Position) (Path, error)
}

// StraightLine is the degenerate planner: a direct segment between the
// endpoints. Used as a fallback and in tests.
type StraightLine struct{}

func (StraightLine) Plan(_ context.Context, origin, destination tracking.Position) (Path, error) {
	return Path{origin, destination}, nil
}
