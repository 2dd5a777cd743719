package overlay

import "github.com/AlveZs/ifc-code-delivery/internal/tracking"

// Bounds is a latitude/longitude bounding box. The zero value is empty.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
	set    bool
}

// Extend grows the bounds to cover the position.
func (b *Bounds) Extend(position tracking.Position) {
	if !b.set {
		b.MinLat, b.MaxLat = position.Lat, position.Lat
		b.MinLng, b.MaxLng = position.Lng, position.Lng
		b.set = true
		return
	}
	if position.Lat < b.MinLat {
		b.MinLat = position.Lat
	}
	if position.Lat > b.MaxLat {
		b.MaxLat = position.Lat
	}
	if position.Lng < b.MinLng {
		b.MinLng = position.Lng
	}
	if position.Lng > b.MaxLng {
		b.MaxLng = position.Lng
	}
}

// Empty reports whether the bounds cover nothing.
func (b Bounds) Empty() bool {
	return !b.set
}

// Contains reports whether the position lies inside the bounds.
func (b Bounds) Contains(position tracking.Position) bool {
	if !b.set {
		return false
	}
	return position.Lat >= b.MinLat && position.Lat <= b.MaxLat &&
		position.Lng >= b.MinLng && position.Lng <= b.MaxLng
}
