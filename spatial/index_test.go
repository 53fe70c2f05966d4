package spatial

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/mowshare/cluster-engine/geo"
	"github.com/mowshare/cluster-engine/model"
)

func TestQueryRadiusEmptyIndex(t *testing.T) {
	center := model.Coordinate{Lat: 44.0123, Lon: -92.1234}

	for _, ix := range []*Index{New(nil), New([]Point{})} {
		got := ix.QueryRadius(center, 80)
		if got == nil {
			t.Fatal("empty index should return an empty slice, not nil")
		}
		if len(got) != 0 {
			t.Fatalf("empty index returned %d neighbors", len(got))
		}
	}
}

func TestQueryRadiusSimple(t *testing.T) {
	host := model.Coordinate{Lat: 44.0123, Lon: -92.1234}
	ix := New([]Point{
		{ID: "near", Coordinate: model.Coordinate{Lat: 44.0124, Lon: -92.1235}},
		{ID: "far", Coordinate: model.Coordinate{Lat: 44.0200, Lon: -92.1300}},
	})

	got := ix.QueryRadius(host, 80)
	if len(got) != 1 {
		t.Fatalf("want 1 neighbor within 80 m, got %d", len(got))
	}
	if got[0].ID != "near" {
		t.Errorf("want neighbor %q, got %q", "near", got[0].ID)
	}
	if got[0].DistanceMeters <= 0 || got[0].DistanceMeters > 80 {
		t.Errorf("reported distance %.2f m violates the radius bound", got[0].DistanceMeters)
	}
	want := geo.Haversine(host, got[0].Coordinate)
	if math.Abs(got[0].DistanceMeters-want) > 1e-9 {
		t.Errorf("reported distance %.9f, haversine %.9f", got[0].DistanceMeters, want)
	}
}

func TestQueryRadiusBoundary(t *testing.T) {
	center := model.Coordinate{Lat: 44, Lon: -92}
	inside := model.Coordinate{Lat: 44.0007, Lon: -92} // ~78 m
	outside := model.Coordinate{Lat: 44.0008, Lon: -92} // ~89 m
	ix := New([]Point{
		{ID: "inside", Coordinate: inside},
		{ID: "outside", Coordinate: outside},
	})

	got := ix.QueryRadius(center, 80)
	if len(got) != 1 || got[0].ID != "inside" {
		t.Fatalf("want exactly the inside point, got %v", ids(got))
	}

	// A point exactly at the radius is included (<=, not <).
	d := geo.Haversine(center, inside)
	exact := ix.QueryRadius(center, d)
	if len(exact) != 1 {
		t.Errorf("point at exact radius excluded: %v", ids(exact))
	}

	if got := ix.QueryRadius(center, -1); len(got) != 0 {
		t.Errorf("negative radius returned %d neighbors", len(got))
	}
}

// Cross-check the k-d tree against a brute-force haversine scan over a
// deterministic point cloud.
func TestQueryRadiusMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	points := make([]Point, 0, 400)
	for i := 0; i < 400; i++ {
		points = append(points, Point{
			ID: fmt.Sprintf("p%03d", i),
			Coordinate: model.Coordinate{
				Lat: 44 + (rng.Float64()-0.5)*0.1,
				Lon: -92 + (rng.Float64()-0.5)*0.1,
			},
		})
	}
	ix := New(points)
	if ix.Len() != len(points) {
		t.Fatalf("Len() = %d, want %d", ix.Len(), len(points))
	}

	centers := []model.Coordinate{
		{Lat: 44, Lon: -92},
		{Lat: 44.03, Lon: -92.04},
		{Lat: 43.96, Lon: -91.97},
	}
	for _, center := range centers {
		for _, radius := range []float64{80, 500, 2500} {
			got := ids(ix.QueryRadius(center, radius))
			want := bruteForce(points, center, radius)
			sort.Strings(got)
			sort.Strings(want)
			if !equalStrings(got, want) {
				t.Errorf("center %+v radius %.0f: index returned %d, brute force %d",
					center, radius, len(got), len(want))
			}
		}
	}
}

func bruteForce(points []Point, center model.Coordinate, radiusMeters float64) []string {
	var out []string
	for _, p := range points {
		if geo.Haversine(center, p.Coordinate) <= radiusMeters {
			out = append(out, p.ID)
		}
	}
	return out
}

func ids(neighbors []Neighbor) []string {
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, n.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
