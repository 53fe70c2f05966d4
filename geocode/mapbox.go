package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
)

const defaultMapboxBaseURL = "https://api.mapbox.com"

// Mapbox is a Geocoder backed by the Mapbox forward-geocoding API.
type Mapbox struct {
	token   string
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     logging.Logger
}

// MapboxOption customises Mapbox construction.
type MapboxOption func(*Mapbox)

// WithMapboxBaseURL overrides the API endpoint, mainly for tests.
func WithMapboxBaseURL(base string) MapboxOption {
	return func(m *Mapbox) { m.baseURL = base }
}

// WithMapboxHTTPClient overrides the HTTP client.
func WithMapboxHTTPClient(c *http.Client) MapboxOption {
	return func(m *Mapbox) { m.client = c }
}

// WithMapboxTimeout bounds each geocoding call when the caller's context has
// no deadline of its own.
func WithMapboxTimeout(d time.Duration) MapboxOption {
	return func(m *Mapbox) { m.timeout = d }
}

// NewMapbox constructs a Mapbox geocoder with a short default timeout.
func NewMapbox(token string, log logging.Logger, opts ...MapboxOption) *Mapbox {
	if log == nil {
		log = logging.Noop()
	}
	m := &Mapbox{
		token:   token,
		baseURL: defaultMapboxBaseURL,
		client:  http.DefaultClient,
		timeout: 5 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// internal JSON shapes - kept unexported so we are free to evolve them.
type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	PlaceName string     `json:"place_name"`
	Center    [2]float64 `json:"center"` // lon, lat
	Relevance float64    `json:"relevance"`
}

// Geocode resolves an address via the places endpoint. Gateway failures
// (non-200, transport errors, timeouts) and empty feature sets all surface as
// ErrGeocodingFailed so the registry treats them uniformly as "could not
// resolve".
func (m *Mapbox) Geocode(ctx context.Context, address string) (model.Coordinate, error) {
	if _, ok := ctx.Deadline(); !ok && m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json", m.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: build request: %v", ErrGeocodingFailed, err)
	}
	q := req.URL.Query()
	q.Set("access_token", m.token)
	q.Set("types", "address")
	q.Set("limit", "1")
	req.URL.RawQuery = q.Encode()

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn(ctx, "mapbox geocoding request failed", logging.Err(err))
		return model.Coordinate{}, fmt.Errorf("%w: %v", ErrGeocodingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.log.Warn(ctx, "mapbox geocoding returned non-200",
			logging.Int("status", resp.StatusCode))
		return model.Coordinate{}, fmt.Errorf("%w: status %d", ErrGeocodingFailed, resp.StatusCode)
	}

	var payload mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: decode response: %v", ErrGeocodingFailed, err)
	}
	if len(payload.Features) == 0 {
		return model.Coordinate{}, fmt.Errorf("%w: no match for %q", ErrGeocodingFailed, address)
	}

	feature := payload.Features[0]
	coord := model.Coordinate{Lat: feature.Center[1], Lon: feature.Center[0]}
	if err := coord.Validate(); err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: %v", ErrGeocodingFailed, err)
	}
	return coord, nil
}
