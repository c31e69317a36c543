package payload

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medgate/medgate/internal/platform/storage"
)

type payloadDoc struct {
	ID             string         `bson:"_id"`
	Key            string         `bson:"bucket_key"`
	CorrelationID  string         `bson:"correlation_id"`
	State          State          `bson:"state"`
	TimeoutSeconds int            `bson:"timeout_seconds"`
	Files          []storage.File `bson:"files,omitempty"`
	RetryCount     int            `bson:"retry_count"`
	CreatedAt      time.Time      `bson:"created_at"`
	LastReceived   time.Time      `bson:"last_received"`
}

func toPayloadDoc(p *Payload) payloadDoc {
	return payloadDoc{
		ID:             p.ID.String(),
		Key:            p.Key,
		CorrelationID:  p.CorrelationID,
		State:          p.State,
		TimeoutSeconds: int(p.Timeout / time.Second),
		Files:          p.Files,
		RetryCount:     p.RetryCount,
		CreatedAt:      p.CreatedAt,
		LastReceived:   p.LastReceived,
	}
}

func (d *payloadDoc) toModel() (*Payload, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &Payload{
		ID:            id,
		Key:           d.Key,
		CorrelationID: d.CorrelationID,
		State:         d.State,
		Timeout:       time.Duration(d.TimeoutSeconds) * time.Second,
		Files:         d.Files,
		RetryCount:    d.RetryCount,
		CreatedAt:     d.CreatedAt,
		LastReceived:  d.LastReceived,
	}, nil
}

type repoMongo struct{ coll *mongo.Collection }

func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection("payloads")}
}

func (r *repoMongo) Create(ctx context.Context, p *Payload) error {
	_, err := r.coll.InsertOne(ctx, toPayloadDoc(p))
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Payload, error) {
	var doc payloadDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *repoMongo) Update(ctx context.Context, p *Payload) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": p.ID.String()},
		bson.M{"$set": bson.M{
			"state":         p.State,
			"files":         p.Files,
			"retry_count":   p.RetryCount,
			"last_received": p.LastReceived,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) List(ctx context.Context, limit, offset int) ([]*Payload, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var items []*Payload
	for cursor.Next(ctx) {
		var doc payloadDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		p, err := doc.toModel()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, int(total), cursor.Err()
}
