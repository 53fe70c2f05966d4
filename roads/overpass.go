package roads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mowshare/cluster-engine/internal/clock"
	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
)

const defaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// drivableHighways lists the OSM highway classes treated as drivable roads.
// Footways, paths, and driveways deliberately stay out: a shared footpath
// between two yards must not disqualify a neighbor.
var drivableHighways = []string{
	"motorway", "trunk", "primary", "secondary", "tertiary",
	"unclassified", "residential", "living_street", "service",
}

// Overpass is a Gateway backed by an OSM Overpass endpoint. It queries
// drivable ways with their geometry inside the bounding circle.
type Overpass struct {
	endpoint     string
	client       *http.Client
	timeout      time.Duration
	bufferMeters float64
	clock        clock.Clock
	log          logging.Logger
}

// OverpassOption customises Overpass construction.
type OverpassOption func(*Overpass)

// WithOverpassEndpoint overrides the Overpass API endpoint, mainly for tests.
func WithOverpassEndpoint(endpoint string) OverpassOption {
	return func(o *Overpass) { o.endpoint = endpoint }
}

// WithOverpassHTTPClient overrides the HTTP client.
func WithOverpassHTTPClient(c *http.Client) OverpassOption {
	return func(o *Overpass) { o.client = c }
}

// WithOverpassTimeout bounds each fetch when the caller's context carries no
// deadline. Road fetches cover a larger area than geocoding, so the default
// is more tolerant.
func WithOverpassTimeout(d time.Duration) OverpassOption {
	return func(o *Overpass) { o.timeout = d }
}

// WithOverpassClock overrides the time source for FetchedAt stamps.
func WithOverpassClock(c clock.Clock) OverpassOption {
	return func(o *Overpass) { o.clock = c }
}

// NewOverpass constructs a gateway. bufferMeters is the assumed road width
// attached to every returned segment.
func NewOverpass(bufferMeters float64, log logging.Logger, opts ...OverpassOption) *Overpass {
	if log == nil {
		log = logging.Noop()
	}
	o := &Overpass{
		endpoint:     defaultOverpassEndpoint,
		client:       http.DefaultClient,
		timeout:      10 * time.Second,
		bufferMeters: bufferMeters,
		clock:        clock.System{},
		log:          log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// internal JSON shapes - kept unexported so we are free to evolve them.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string          `json:"type"`
	Geometry []overpassPoint `json:"geometry"`
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fetch queries drivable ways around center. Transport errors, non-200
// responses, and malformed payloads all surface as ErrRoadNetworkUnavailable
// so the accessibility filter can apply its fail-open policy uniformly.
func (o *Overpass) Fetch(ctx context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error) {
	if _, ok := ctx.Deadline(); !ok && o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	query := fmt.Sprintf(
		"[out:json][timeout:%d];way(around:%.0f,%.6f,%.6f)[highway~\"^(%s)$\"];out geom;",
		int(o.timeout.Seconds()), radiusMeters, center.Lat, center.Lon,
		strings.Join(drivableHighways, "|"),
	)

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRoadNetworkUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		o.log.Warn(ctx, "overpass fetch failed", logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrRoadNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		o.log.Warn(ctx, "overpass returned non-200", logging.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrRoadNetworkUnavailable, resp.StatusCode)
	}

	var payload overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRoadNetworkUnavailable, err)
	}

	geom := &model.RoadGeometry{
		Center:       center,
		RadiusMeters: radiusMeters,
		FetchedAt:    o.clock.Now(),
	}
	for _, el := range payload.Elements {
		if el.Type != "way" || len(el.Geometry) == 0 {
			continue
		}
		seg := model.RoadSegment{
			Points:       make([]model.Coordinate, 0, len(el.Geometry)),
			BufferMeters: o.bufferMeters,
		}
		for _, p := range el.Geometry {
			seg.Points = append(seg.Points, model.Coordinate{Lat: p.Lat, Lon: p.Lon})
		}
		geom.Segments = append(geom.Segments, seg)
	}

	o.log.Debug(ctx, "fetched road geometry",
		logging.Float64("radius_m", radiusMeters),
		logging.Int("segments", len(geom.Segments)))
	return geom, nil
}
