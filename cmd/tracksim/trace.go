package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// routeTrace is one recorded run: the route it belongs to and the ordered
// [lat, lng] pairs the vehicle reported.
type routeTrace struct {
	RouteID   string       `json:"routeId"`
	Positions [][2]float64 `json:"positions"`
}

func loadTrace(path, routeID string) (routeTrace, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return routeTrace{}, fmt.Errorf("tracksim: reading %s: %w", path, err)
	}

	var traces []routeTrace
	if err := json.Unmarshal(payload, &traces); err != nil {
		return routeTrace{}, fmt.Errorf("tracksim: parsing %s: %w", path, err)
	}

	for _, trace := range traces {
		if trace.RouteID != routeID {
			continue
		}
		if len(trace.Positions) == 0 {
			return routeTrace{}, fmt.Errorf("tracksim: trace for route %s has no positions", routeID)
		}
		return trace, nil
	}
	return routeTrace{}, fmt.Errorf("tracksim: no trace for route %s in %s", routeID, path)
}
