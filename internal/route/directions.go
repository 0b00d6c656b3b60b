package route

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"backend-caravan/internal/shared/geo"
)

const fallbackSteps = 16

// Client fetches display routes from an OSRM-compatible endpoint. With no
// endpoint configured, or when the endpoint misbehaves, it degrades to a
// straight-line interpolation — the route is display-only, so a degraded
// line beats an error screen.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type osrmResponse struct {
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) GetRoute(ctx context.Context, start, end geo.Point) ([]geo.Point, error) {
	if c.baseURL == "" {
		return geo.Interpolate(start, end, fallbackSteps), nil
	}

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, start.Lng, start.Lat, end.Lng, end.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("directions request failed, falling back to straight line: %v", err)
		return geo.Interpolate(start, end, fallbackSteps), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("directions returned %d, falling back to straight line", resp.StatusCode)
		return geo.Interpolate(start, end, fallbackSteps), nil
	}

	var decoded osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Printf("directions decode failed, falling back to straight line: %v", err)
		return geo.Interpolate(start, end, fallbackSteps), nil
	}
	if len(decoded.Routes) == 0 || len(decoded.Routes[0].Geometry.Coordinates) == 0 {
		return geo.Interpolate(start, end, fallbackSteps), nil
	}

	coords := decoded.Routes[0].Geometry.Coordinates
	waypoints := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		waypoints = append(waypoints, geo.Point{Lat: c[1], Lng: c[0]})
	}
	return waypoints, nil
}
