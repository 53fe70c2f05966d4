package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mowshare/cluster-engine/model"
)

// dynamoItem is the DynamoDB shape of an AddressRecord. The table is keyed
// by (role, id) so each partition scans cheaply.
type dynamoItem struct {
	Role         string   `dynamodbav:"role"`
	ID           string   `dynamodbav:"id"`
	Street       string   `dynamodbav:"street"`
	City         string   `dynamodbav:"city"`
	Region       string   `dynamodbav:"region"`
	Latitude     *float64 `dynamodbav:"latitude,omitempty"`
	Longitude    *float64 `dynamodbav:"longitude,omitempty"`
	RegisteredAt string   `dynamodbav:"registered_at"`
}

// DynamoAPI is the slice of the DynamoDB client the store uses; narrowed for
// testability.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore is a Store backed by a DynamoDB table.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore loads AWS configuration from the environment and binds to
// the given table.
func NewDynamoStore(ctx context.Context, table string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoStore{
		client: dynamodb.NewFromConfig(cfg),
		table:  table,
	}, nil
}

// NewDynamoStoreWithClient binds to an existing client, mainly for tests.
func NewDynamoStoreWithClient(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Insert(ctx context.Context, rec *model.AddressRecord) error {
	item := dynamoItem{
		Role:         string(rec.Role),
		ID:           rec.ID,
		Street:       rec.Street,
		City:         rec.City,
		Region:       rec.Region,
		RegisteredAt: rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.Geocoded() {
		item.Latitude = aws.Float64(rec.Coordinate.Lat)
		item.Longitude = aws.Float64(rec.Coordinate.Lon)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *DynamoStore) LoadAll(ctx context.Context) ([]*model.AddressRecord, error) {
	var out []*model.AddressRecord
	var startKey map[string]dynamotypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{TableName: aws.String(s.table)}
		if startKey != nil {
			input.ExclusiveStartKey = startKey
		}
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan table %s: %w", s.table, err)
		}

		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, item := range items {
			rec, err := item.toRecord()
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}

		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (item dynamoItem) toRecord() (*model.AddressRecord, error) {
	rec := &model.AddressRecord{
		ID:         item.ID,
		Role:       model.Role(item.Role),
		Street:     item.Street,
		City:       item.City,
		Region:     item.Region,
		Normalized: model.NormalizeAddress(item.Street, item.City, item.Region),
	}
	if item.Latitude != nil && item.Longitude != nil {
		rec.Coordinate = &model.Coordinate{Lat: *item.Latitude, Lon: *item.Longitude}
	}
	if item.RegisteredAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, item.RegisteredAt)
		if err != nil {
			return nil, fmt.Errorf("parse registered_at for %s: %w", item.ID, err)
		}
		rec.RegisteredAt = ts
	}
	return rec, nil
}
