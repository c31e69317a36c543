package inference

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type requestDoc struct {
	ID             string     `bson:"_id"`
	TransactionID  string     `bson:"transaction_id"`
	State          State      `bson:"state"`
	TryCount       int        `bson:"try_count"`
	LastError      string     `bson:"last_error,omitempty"`
	PayloadID      string     `bson:"payload_id,omitempty"`
	InputResources []Resource `bson:"input_resources,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toRequestDoc(r *Request) requestDoc {
	doc := requestDoc{
		ID:             r.ID.String(),
		TransactionID:  r.TransactionID,
		State:          r.State,
		TryCount:       r.TryCount,
		LastError:      r.LastError,
		InputResources: r.InputResources,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.PayloadID != uuid.Nil {
		doc.PayloadID = r.PayloadID.String()
	}
	return doc
}

func (d *requestDoc) toModel() (*Request, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	req := &Request{
		ID:             id,
		TransactionID:  d.TransactionID,
		State:          d.State,
		TryCount:       d.TryCount,
		LastError:      d.LastError,
		InputResources: d.InputResources,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.PayloadID != "" {
		pid, err := uuid.Parse(d.PayloadID)
		if err != nil {
			return nil, err
		}
		req.PayloadID = pid
	}
	return req, nil
}

type repoMongo struct{ coll *mongo.Collection }

func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection("inference_requests")}
}

func (r *repoMongo) Create(ctx context.Context, req *Request) error {
	_, err := r.coll.InsertOne(ctx, toRequestDoc(req))
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *repoMongo) GetByTransactionID(ctx context.Context, transactionID string) (*Request, error) {
	var doc requestDoc
	err := r.coll.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *repoMongo) Update(ctx context.Context, req *Request) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"transaction_id": req.TransactionID},
		bson.M{"$set": bson.M{
			"state":           req.State,
			"try_count":       req.TryCount,
			"last_error":      req.LastError,
			"input_resources": req.InputResources,
			"updated_at":      req.UpdatedAt,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeNextPending uses FindOneAndUpdate, which is atomic per document, so
// concurrent takers never claim the same request.
func (r *repoMongo) TakeNextPending(ctx context.Context) (*Request, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)
	var doc requestDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"state": StatePending},
		bson.M{"$set": bson.M{"state": StateInProgress, "updated_at": time.Now().UTC()}},
		opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *repoMongo) List(ctx context.Context, limit, offset int) ([]*Request, int, error) {
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

	var items []*Request
	for cursor.Next(ctx) {
		var doc requestDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		req, err := doc.toModel()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, int(total), cursor.Err()
}
