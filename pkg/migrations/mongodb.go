package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventhub/internal/constants"
)

func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.SchemaCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetName("ux_event_schemas_type_version").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "active", Value: 1}},
			Options: options.Index().SetName("idx_event_schemas_type_active"),
		},
		{
			Keys:    bson.D{{Key: "deprecated", Value: 1}, {Key: "deprecation_date", Value: 1}},
			Options: options.Index().SetName("idx_event_schemas_deprecation"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_event_schemas_updated_at"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
