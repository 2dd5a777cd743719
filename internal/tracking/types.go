package tracking

import (
	"context"
	"math"
)

// Position is an immutable latitude/longitude pair.
type Position struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// Valid reports whether both coordinates are finite and inside the WGS84
// range.
func (p Position) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return false
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Update is one position report for a route. Finished marks the agent's last
// report; the session accepts no updates after it.
type Update struct {
	RouteID  string   `json:"routeId"`
	Position Position `json:"position"`
	Finished bool     `json:"finished"`
}

// Endpoints are the start and end positions of a route, kept on the session
// so observers can build an overlay without a second lookup.
type Endpoints struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// RouteSource resolves a route's endpoints when a session opens. The registry
// only ever reads from the collaborator.
type RouteSource interface {
	Endpoints(ctx context.Context, routeID string) (Endpoints, error)
}
