package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventhub/internal/constants"
	pkgerrors "eventhub/pkg/errors"
)

type Store interface {
	Get(ctx context.Context, eventType, version string) (*EventSchema, error)
	ListByType(ctx context.Context, eventType string) ([]EventSchema, error)
	ListActive(ctx context.Context, eventType string) ([]EventSchema, error)
	List(ctx context.Context, limit int) ([]EventSchema, error)
	ListDeprecated(ctx context.Context) ([]EventSchema, error)
	Insert(ctx context.Context, schema *EventSchema) error
	Update(ctx context.Context, schema *EventSchema) error
	IncrementUsage(ctx context.Context, eventType, version string) error
	CountActive(ctx context.Context) (int64, error)
}

type mongoStore struct {
	collection *mongo.Collection
}

func NewStore(db *mongo.Database) Store {
	return &mongoStore{
		collection: db.Collection(constants.SchemaCollection),
	}
}

func (s *mongoStore) Get(ctx context.Context, eventType, version string) (*EventSchema, error) {
	filter := bson.M{"event_type": eventType, "version": version}

	var schema EventSchema
	err := s.collection.FindOne(ctx, filter).Decode(&schema)
	if err == mongo.ErrNoDocuments {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	return &schema, nil
}

func (s *mongoStore) ListByType(ctx context.Context, eventType string) ([]EventSchema, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection.Find(ctx, bson.M{"event_type": eventType}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer cursor.Close(ctx)

	var schemas []EventSchema
	if err := cursor.All(ctx, &schemas); err != nil {
		return nil, fmt.Errorf("failed to decode schemas: %w", err)
	}

	return schemas, nil
}

func (s *mongoStore) ListActive(ctx context.Context, eventType string) ([]EventSchema, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection.Find(ctx, bson.M{"event_type": eventType, "active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schemas: %w", err)
	}
	defer cursor.Close(ctx)

	var schemas []EventSchema
	if err := cursor.All(ctx, &schemas); err != nil {
		return nil, fmt.Errorf("failed to decode schemas: %w", err)
	}

	return schemas, nil
}

func (s *mongoStore) List(ctx context.Context, limit int) ([]EventSchema, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "event_type", Value: 1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer cursor.Close(ctx)

	var schemas []EventSchema
	if err := cursor.All(ctx, &schemas); err != nil {
		return nil, fmt.Errorf("failed to decode schemas: %w", err)
	}

	return schemas, nil
}

func (s *mongoStore) ListDeprecated(ctx context.Context) ([]EventSchema, error) {
	opts := options.Find().SetSort(bson.D{{Key: "deprecation_date", Value: 1}})

	cursor, err := s.collection.Find(ctx, bson.M{"deprecated": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list deprecated schemas: %w", err)
	}
	defer cursor.Close(ctx)

	var schemas []EventSchema
	if err := cursor.All(ctx, &schemas); err != nil {
		return nil, fmt.Errorf("failed to decode schemas: %w", err)
	}

	return schemas, nil
}

func (s *mongoStore) Insert(ctx context.Context, schema *EventSchema) error {
	if schema.ID == "" {
		schema.ID = uuid.New().String()
	}
	now := time.Now()
	schema.CreatedAt = now
	schema.UpdatedAt = now

	_, err := s.collection.InsertOne(ctx, schema)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pkgerrors.ErrDuplicateSchema.WithCause(err).
				WithDetail("message", fmt.Sprintf("schema %s already registered", schema.FullVersion()))
		}
		return fmt.Errorf("failed to insert schema: %w", err)
	}

	return nil
}

func (s *mongoStore) Update(ctx context.Context, schema *EventSchema) error {
	schema.UpdatedAt = time.Now()

	filter := bson.M{"event_type": schema.EventType, "version": schema.Version}
	update := bson.M{"$set": schema}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}

	if result.MatchedCount == 0 {
		return pkgerrors.ErrSchemaNotFound.
			WithDetail("event_type", schema.EventType).
			WithDetail("version", schema.Version)
	}

	return nil
}

func (s *mongoStore) IncrementUsage(ctx context.Context, eventType, version string) error {
	filter := bson.M{"event_type": eventType, "version": version}
	update := bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"last_used": time.Now()},
	}

	_, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to increment schema usage: %w", err)
	}

	return nil
}

func (s *mongoStore) CountActive(ctx context.Context) (int64, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"active": true, "deprecated": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count active schemas: %w", err)
	}
	return count, nil
}
