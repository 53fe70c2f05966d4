// Package config handles engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all boundary configuration for the clustering engine. The
// discovery radius, road buffer, fetch multiplier, and cluster capacity are
// deliberately parameters rather than constants; documented defaults are
// 80 m / 5 m / 3x / 5.
type Config struct {
	MetricsAddr string

	DiscoveryRadiusMeters float64
	RoadBufferMeters      float64
	RoadFetchMultiplier   float64
	ClusterCapacity       int

	RoadCacheTTL     time.Duration
	GeocodeTimeout   time.Duration
	RoadFetchTimeout time.Duration

	MapboxToken      string
	OverpassEndpoint string
	RoadAware        bool

	// SeedCSVPath points the registry at a flat-file store. Empty with an
	// empty DynamoTable means in-memory only.
	SeedCSVPath string
	DynamoTable string
}

// Load reads configuration from the environment with sensible defaults. A
// .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		DiscoveryRadiusMeters: getFloatEnv("DISCOVERY_RADIUS_METERS", 80),
		RoadBufferMeters:      getFloatEnv("ROAD_BUFFER_METERS", 5),
		RoadFetchMultiplier:   getFloatEnv("ROAD_FETCH_MULTIPLIER", 3),
		ClusterCapacity:       getIntEnv("CLUSTER_CAPACITY", 5),
		RoadCacheTTL:          getDurationEnv("ROAD_CACHE_TTL_SECONDS", 900),
		GeocodeTimeout:        getDurationEnv("GEOCODE_TIMEOUT_SECONDS", 5),
		RoadFetchTimeout:      getDurationEnv("ROAD_FETCH_TIMEOUT_SECONDS", 10),
		MapboxToken:           getEnv("MAPBOX_ACCESS_TOKEN", ""),
		OverpassEndpoint:      getEnv("OVERPASS_ENDPOINT", "https://overpass-api.de/api/interpreter"),
		RoadAware:             getEnv("ROAD_AWARE", "true") == "true",
		SeedCSVPath:           getEnv("SEED_CSV_PATH", ""),
		DynamoTable:           getEnv("DYNAMO_TABLE", ""),
	}
}

// Validate checks the numeric invariants the engine depends on.
func (c *Config) Validate() error {
	if c.DiscoveryRadiusMeters <= 0 {
		return fmt.Errorf("discovery radius must be positive, got %f", c.DiscoveryRadiusMeters)
	}
	if c.RoadBufferMeters <= 0 {
		return fmt.Errorf("road buffer must be positive, got %f", c.RoadBufferMeters)
	}
	if c.RoadFetchMultiplier < 1 {
		return fmt.Errorf("road fetch multiplier must be >= 1, got %f", c.RoadFetchMultiplier)
	}
	if c.ClusterCapacity <= 0 {
		return fmt.Errorf("cluster capacity must be positive, got %d", c.ClusterCapacity)
	}
	if c.SeedCSVPath != "" && c.DynamoTable != "" {
		return fmt.Errorf("SEED_CSV_PATH and DYNAMO_TABLE are mutually exclusive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
