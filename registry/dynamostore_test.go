package registry

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mowshare/cluster-engine/model"
)

// fakeDynamo holds raw items and serves Scan one item per page to exercise
// pagination.
type fakeDynamo struct {
	table string
	items []map[string]dynamotypes.AttributeValue
	scans int
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.table = aws.ToString(params.TableName)
	f.items = append(f.items, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans++
	start := 0
	if params.ExclusiveStartKey != nil {
		if av, ok := params.ExclusiveStartKey["offset"].(*dynamotypes.AttributeValueMemberN); ok {
			start, _ = strconv.Atoi(av.Value)
		}
	}

	out := &dynamodb.ScanOutput{}
	if start < len(f.items) {
		out.Items = f.items[start : start+1]
	}
	if start+1 < len(f.items) {
		out.LastEvaluatedKey = map[string]dynamotypes.AttributeValue{
			"offset": &dynamotypes.AttributeValueMemberN{Value: strconv.Itoa(start + 1)},
		}
	}
	return out, nil
}

func TestDynamoStoreRoundTrip(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoStoreWithClient(fake, "addresses")
	ctx := context.Background()
	registered := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	host := &model.AddressRecord{
		ID: "h1", Street: "123 Main St", City: "Rochester", Region: "MN",
		Normalized:   model.NormalizeAddress("123 Main St", "Rochester", "MN"),
		Role:         model.RoleHost,
		Coordinate:   &model.Coordinate{Lat: 44.0123, Lon: -92.1234},
		RegisteredAt: registered,
	}
	pending := &model.AddressRecord{
		ID: "n1", Street: "456 Oak Ave", City: "Rochester", Region: "MN",
		Normalized:   model.NormalizeAddress("456 Oak Ave", "Rochester", "MN"),
		Role:         model.RoleNeighbor,
		RegisteredAt: registered,
	}
	if err := store.Insert(ctx, host); err != nil {
		t.Fatalf("Insert host: %v", err)
	}
	if err := store.Insert(ctx, pending); err != nil {
		t.Fatalf("Insert pending: %v", err)
	}
	if fake.table != "addresses" {
		t.Errorf("PutItem table = %q", fake.table)
	}

	records, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("want 2 records, got %d", len(records))
	}
	if fake.scans < 2 {
		t.Errorf("expected paginated scan, got %d scan calls", fake.scans)
	}

	byID := map[string]*model.AddressRecord{}
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	gotHost := byID["h1"]
	if gotHost == nil {
		t.Fatal("host record missing")
	}
	if gotHost.Role != model.RoleHost || !gotHost.Geocoded() {
		t.Errorf("host did not round trip: %+v", gotHost)
	}
	if gotHost.Coordinate.Lat != 44.0123 || gotHost.Coordinate.Lon != -92.1234 {
		t.Errorf("host coordinate changed: %+v", gotHost.Coordinate)
	}
	if !gotHost.RegisteredAt.Equal(registered) {
		t.Errorf("timestamp changed: %v", gotHost.RegisteredAt)
	}
	if gotHost.Normalized != host.Normalized {
		t.Errorf("normalized key not rederived: %q", gotHost.Normalized)
	}

	gotPending := byID["n1"]
	if gotPending == nil {
		t.Fatal("pending record missing")
	}
	if gotPending.Geocoded() {
		t.Error("un-geocoded record grew a coordinate")
	}
}
