package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

const defaultPlanTimeout = 10 * time.Second

// OSRM plans driving paths against an OSRM-compatible routing service.
type OSRM struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (p *OSRM) Plan(ctx context.Context, origin, destination tracking.Position) (Path, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPlanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// OSRM takes lng,lat pairs.
	endpoint := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f",
		p.BaseURL, origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	query := url.Values{}
	query.Set("overview", "full")
	query.Set("geometries", "geojson")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailure, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailure, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrPlanningFailure, response.StatusCode)
	}

	var decoded osrmResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailure, err)
	}
	if decoded.Code != "Ok" || len(decoded.Routes) == 0 {
		return nil, fmt.Errorf("%w: response code %q", ErrPlanningFailure, decoded.Code)
	}

	coordinates := decoded.Routes[0].Geometry.Coordinates
	path := make(Path, 0, len(coordinates))
	for _, pair := range coordinates {
		if len(pair) < 2 {
			continue
		}
		path = append(path, tracking.Position{Lat: pair[1], Lng: pair[0]})
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty geometry", ErrPlanningFailure)
	}
	return path, nil
}
