package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/mowshare/cluster-engine/model"
)

func TestStaticGeocode(t *testing.T) {
	static := NewStatic()
	static.Add("123 Main St", "Rochester", "MN", model.Coordinate{Lat: 44.0123, Lon: -92.1234})

	got, err := static.Geocode(context.Background(), "123 Main St, Rochester, MN")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got.Lat != 44.0123 || got.Lon != -92.1234 {
		t.Errorf("unexpected coordinate: %+v", got)
	}

	// Lookup tolerates casing and spacing differences, same as dedup.
	got, err = static.Geocode(context.Background(), "123  MAIN st,  rochester , MN")
	if err != nil {
		t.Fatalf("Geocode with messy input: %v", err)
	}
	if got.Lat != 44.0123 {
		t.Errorf("messy input resolved to %+v", got)
	}

	_, err = static.Geocode(context.Background(), "1 Nowhere Ln, Rochester, MN")
	if !errors.Is(err, ErrGeocodingFailed) {
		t.Errorf("want ErrGeocodingFailed for unknown address, got %v", err)
	}
}
