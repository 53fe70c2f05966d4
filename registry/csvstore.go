package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mowshare/cluster-engine/model"
)

var csvHeader = []string{"id", "role", "street", "city", "region", "latitude", "longitude", "registered_at"}

// CSVStore is a flat-file Store: one CSV holding both partitions, appended on
// insert and read in full at load. Suitable for small registries and local
// development; larger deployments use DynamoStore.
type CSVStore struct {
	mu   sync.Mutex
	path string
}

// NewCSVStore opens (or creates) the CSV file at path and ensures the header
// row exists.
func NewCSVStore(path string) (*CSVStore, error) {
	s := &CSVStore{path: path}
	if err := s.ensureHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) ensureHeader() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVStore) Insert(_ context.Context, rec *model.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", s.path, err)
	}
	defer f.Close()

	lat, lon := "", ""
	if rec.Geocoded() {
		lat = strconv.FormatFloat(rec.Coordinate.Lat, 'f', -1, 64)
		lon = strconv.FormatFloat(rec.Coordinate.Lon, 'f', -1, 64)
	}

	w := csv.NewWriter(f)
	row := []string{
		rec.ID, string(rec.Role), rec.Street, rec.City, rec.Region,
		lat, lon, rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVStore) LoadAll(_ context.Context) ([]*model.AddressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil { // header
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []*model.AddressRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordFromRow(row []string) (*model.AddressRecord, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("malformed row: want %d fields, got %d", len(csvHeader), len(row))
	}
	rec := &model.AddressRecord{
		ID:         row[0],
		Role:       model.Role(row[1]),
		Street:     row[2],
		City:       row[3],
		Region:     row[4],
		Normalized: model.NormalizeAddress(row[2], row[3], row[4]),
	}
	if row[5] != "" && row[6] != "" {
		lat, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, fmt.Errorf("parse latitude %q: %w", row[5], err)
		}
		lon, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, fmt.Errorf("parse longitude %q: %w", row[6], err)
		}
		rec.Coordinate = &model.Coordinate{Lat: lat, Lon: lon}
	}
	if row[7] != "" {
		ts, err := time.Parse(time.RFC3339Nano, row[7])
		if err != nil {
			return nil, fmt.Errorf("parse registered_at %q: %w", row[7], err)
		}
		rec.RegisteredAt = ts
	}
	return rec, nil
}
