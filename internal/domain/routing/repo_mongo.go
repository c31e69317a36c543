package routing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo document shapes. UUIDs are stored as strings so the documents stay
// readable with standard tooling.

type configDoc struct {
	ID             string            `bson:"_id"`
	Name           string            `bson:"name"`
	SendingIDField string            `bson:"sending_id_field"`
	SendingIDValue string            `bson:"sending_id_value"`
	DataLinkField  string            `bson:"data_link_field"`
	DataLinkType   string            `bson:"data_link_type"`
	DataMappings   map[string]string `bson:"data_mappings,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func (d *configDoc) toModel() (*HL7Config, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &HL7Config{
		ID:             id,
		Name:           d.Name,
		SendingIDField: d.SendingIDField,
		SendingIDValue: d.SendingIDValue,
		DataLinkField:  d.DataLinkField,
		DataLinkType:   DataLinkType(d.DataLinkType),
		DataMappings:   d.DataMappings,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

type configRepoMongo struct{ coll *mongo.Collection }

func NewConfigRepoMongo(database *mongo.Database) ConfigRepository {
	return &configRepoMongo{coll: database.Collection("hl7_application_configs")}
}

func (r *configRepoMongo) Create(ctx context.Context, c *HL7Config) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, configDoc{
		ID:             c.ID.String(),
		Name:           c.Name,
		SendingIDField: c.SendingIDField,
		SendingIDValue: c.SendingIDValue,
		DataLinkField:  c.DataLinkField,
		DataLinkType:   string(c.DataLinkType),
		DataMappings:   c.DataMappings,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return err
}

func (r *configRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*HL7Config, error) {
	var doc configDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *configRepoMongo) GetAll(ctx context.Context) ([]*HL7Config, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []*HL7Config
	for cursor.Next(ctx) {
		var doc configDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		c, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, cursor.Err()
}

func (r *configRepoMongo) List(ctx context.Context, limit, offset int) ([]*HL7Config, int, error) {
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

	var items []*HL7Config
	for cursor.Next(ctx) {
		var doc configDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		c, err := doc.toModel()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, int(total), cursor.Err()
}

func (r *configRepoMongo) Update(ctx context.Context, c *HL7Config) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": c.ID.String()}, bson.M{"$set": bson.M{
		"name":             c.Name,
		"sending_id_field": c.SendingIDField,
		"sending_id_value": c.SendingIDValue,
		"data_link_field":  c.DataLinkField,
		"data_link_type":   string(c.DataLinkType),
		"data_mappings":    c.DataMappings,
		"updated_at":       time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *configRepoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Source applications
// ---------------------------------------------------------------------------

type appDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	AETitle   string    `bson:"ae_title"`
	HostIP    string    `bson:"host_ip"`
	Port      int       `bson:"port,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

type sourceRepoMongo struct{ coll *mongo.Collection }

func NewSourceRepoMongo(database *mongo.Database) SourceRepository {
	return &sourceRepoMongo{coll: database.Collection("source_applications")}
}

func (r *sourceRepoMongo) Create(ctx context.Context, a *SourceApplication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := r.coll.InsertOne(ctx, appDoc{
		ID: a.ID.String(), Name: a.Name, AETitle: a.AETitle, HostIP: a.HostIP, CreatedAt: a.CreatedAt,
	})
	return err
}

func (r *sourceRepoMongo) GetByAETitle(ctx context.Context, aeTitle string) (*SourceApplication, error) {
	var doc appDoc
	err := r.coll.FindOne(ctx, bson.M{"ae_title": aeTitle}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	return &SourceApplication{ID: id, Name: doc.Name, AETitle: doc.AETitle, HostIP: doc.HostIP, CreatedAt: doc.CreatedAt}, nil
}

func (r *sourceRepoMongo) List(ctx context.Context, limit, offset int) ([]*SourceApplication, int, error) {
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

	var items []*SourceApplication
	for cursor.Next(ctx) {
		var doc appDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, &SourceApplication{ID: id, Name: doc.Name, AETitle: doc.AETitle, HostIP: doc.HostIP, CreatedAt: doc.CreatedAt})
	}
	return items, int(total), cursor.Err()
}

func (r *sourceRepoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Destination applications
// ---------------------------------------------------------------------------

type destinationRepoMongo struct{ coll *mongo.Collection }

func NewDestinationRepoMongo(database *mongo.Database) DestinationRepository {
	return &destinationRepoMongo{coll: database.Collection("destination_applications")}
}

func (r *destinationRepoMongo) Create(ctx context.Context, a *DestinationApplication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := r.coll.InsertOne(ctx, appDoc{
		ID: a.ID.String(), Name: a.Name, AETitle: a.AETitle, HostIP: a.HostIP, Port: a.Port, CreatedAt: a.CreatedAt,
	})
	return err
}

func (r *destinationRepoMongo) GetByAETitle(ctx context.Context, aeTitle string) (*DestinationApplication, error) {
	var doc appDoc
	err := r.coll.FindOne(ctx, bson.M{"ae_title": aeTitle}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	return &DestinationApplication{ID: id, Name: doc.Name, AETitle: doc.AETitle, HostIP: doc.HostIP, Port: doc.Port, CreatedAt: doc.CreatedAt}, nil
}

func (r *destinationRepoMongo) List(ctx context.Context, limit, offset int) ([]*DestinationApplication, int, error) {
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

	var items []*DestinationApplication
	for cursor.Next(ctx) {
		var doc appDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, &DestinationApplication{ID: id, Name: doc.Name, AETitle: doc.AETitle, HostIP: doc.HostIP, Port: doc.Port, CreatedAt: doc.CreatedAt})
	}
	return items, int(total), cursor.Err()
}

func (r *destinationRepoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
