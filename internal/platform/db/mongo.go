package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoClient connects to MongoDB and verifies the connection with a ping.
func NewMongoClient(ctx context.Context, mongoURL string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client, nil
}

// mongoIndexModels returns the index specs per collection. Keys use bson.D:
// the driver rejects multi-key maps for ordered index keys, and compound
// index key order is significant.
func mongoIndexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		"payloads": {
			{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}}},
		},
		"inference_requests": {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		"remote_app_executions": {
			{Keys: bson.D{{Key: "sop_instance_uid", Value: 1}}},
			{Keys: bson.D{{Key: "patient_id", Value: 1}}},
			{Keys: bson.D{
				{Key: "workflow_instance_id", Value: 1},
				{Key: "export_task_id", Value: 1},
				{Key: "study_instance_uid", Value: 1},
				{Key: "series_instance_uid", Value: 1},
			}},
		},
		"hl7_application_configs": {
			{Keys: bson.D{{Key: "sending_id_value", Value: 1}}},
		},
	}
}

// EnsureMongoIndexes creates the indexes the gateway's queries depend on.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	for coll, models := range mongoIndexModels() {
		if _, err := database.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", coll, err)
		}
	}
	return nil
}
