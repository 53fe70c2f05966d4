// Package observability bundles the engine's Prometheus metrics and
// OpenTelemetry tracing setup.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector bundles Prometheus metrics for the clustering engine and
// satisfies the recorder interfaces the registry, discovery, and lifecycle
// components accept.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	DiscoveryRequests  *prometheus.CounterVec
	DiscoveryDurations *prometheus.HistogramVec
	DiscoveryQualified *prometheus.HistogramVec

	RegistryHosts     prometheus.Gauge
	RegistryNeighbors prometheus.Gauge
	ActiveClusters    prometheus.Gauge

	RoadFailOpens   prometheus.Counter
	GeocodeFailures prometheus.Counter
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registration tolerates collectors that already exist so repeated wiring in
// tests does not fail.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_requests_total",
		Help: "Total discovery operations, labeled by operation.",
	}, []string{"operation"})
	requests, err := registerCounterVec(reg, requests, "discovery_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discovery_duration_seconds",
		Help:    "Discovery operation latency in seconds, dominated by road fetches.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})
	durations, err = registerHistogramVec(reg, durations, "discovery_duration_seconds")
	if err != nil {
		return nil, err
	}

	qualified := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discovery_qualified_matches",
		Help:    "Qualified matches per discovery operation.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	}, []string{"operation"})
	qualified, err = registerHistogramVec(reg, qualified, "discovery_qualified_matches")
	if err != nil {
		return nil, err
	}

	hosts, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_host_records",
		Help: "Current number of host records in the address registry.",
	}), "registry_host_records")
	if err != nil {
		return nil, err
	}
	neighbors, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_neighbor_records",
		Help: "Current number of neighbor records in the address registry.",
	}), "registry_neighbor_records")
	if err != nil {
		return nil, err
	}
	clusters, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_clusters",
		Help: "Current number of formed clusters.",
	}), "active_clusters")
	if err != nil {
		return nil, err
	}

	failOpens := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "road_fetch_fail_open_total",
		Help: "Discovery calls that proceeded without road geometry because the road network was unavailable.",
	})
	failOpens, err = registerCounter(reg, failOpens, "road_fetch_fail_open_total")
	if err != nil {
		return nil, err
	}

	geocodeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocoding_failures_total",
		Help: "Registrations rejected because the address could not be geocoded.",
	})
	geocodeFailures, err = registerCounter(reg, geocodeFailures, "geocoding_failures_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:           gatherer,
		DiscoveryRequests:  requests,
		DiscoveryDurations: durations,
		DiscoveryQualified: qualified,
		RegistryHosts:      hosts,
		RegistryNeighbors:  neighbors,
		ActiveClusters:     clusters,
		RoadFailOpens:      failOpens,
		GeocodeFailures:    geocodeFailures,
	}, nil
}

// ObserveDiscovery satisfies the discovery engine's metrics recorder.
func (c *EngineCollector) ObserveDiscovery(operation string, duration time.Duration, candidates, qualified int) {
	if c == nil {
		return
	}
	if c.DiscoveryRequests != nil {
		c.DiscoveryRequests.WithLabelValues(operation).Inc()
	}
	if c.DiscoveryDurations != nil {
		c.DiscoveryDurations.WithLabelValues(operation).Observe(duration.Seconds())
	}
	if c.DiscoveryQualified != nil {
		c.DiscoveryQualified.WithLabelValues(operation).Observe(float64(qualified))
	}
}

// RecordRoadFailOpen counts a discovery call that fell back to
// accessible-by-default because road geometry was unavailable.
func (c *EngineCollector) RecordRoadFailOpen() {
	if c == nil || c.RoadFailOpens == nil {
		return
	}
	c.RoadFailOpens.Inc()
}

// RecordGeocodeFailure counts a rejected registration.
func (c *EngineCollector) RecordGeocodeFailure() {
	if c == nil || c.GeocodeFailures == nil {
		return
	}
	c.GeocodeFailures.Inc()
}

// SetRegistryCounts satisfies the registry's metrics recorder.
func (c *EngineCollector) SetRegistryCounts(hosts, neighbors int) {
	if c == nil {
		return
	}
	if c.RegistryHosts != nil {
		c.RegistryHosts.Set(float64(hosts))
	}
	if c.RegistryNeighbors != nil {
		c.RegistryNeighbors.Set(float64(neighbors))
	}
}

// SetClusterCount satisfies the lifecycle service's metrics recorder.
func (c *EngineCollector) SetClusterCount(n int) {
	if c == nil || c.ActiveClusters == nil {
		return
	}
	c.ActiveClusters.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
