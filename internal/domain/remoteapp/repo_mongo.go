package remoteapp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type executionDoc struct {
	ID                 string            `bson:"_id"`
	RequestTime        time.Time         `bson:"request_time"`
	WorkflowInstanceID string            `bson:"workflow_instance_id"`
	ExportTaskID       string            `bson:"export_task_id"`
	CorrelationID      string            `bson:"correlation_id"`
	PatientID          string            `bson:"patient_id"`
	StudyInstanceUID   string            `bson:"study_instance_uid"`
	SeriesInstanceUID  string            `bson:"series_instance_uid"`
	SopInstanceUID     string            `bson:"sop_instance_uid"`
	OriginalValues     map[string]string `bson:"original_values,omitempty"`
}

func toDoc(e *Execution) executionDoc {
	return executionDoc{
		ID:                 e.ID.String(),
		RequestTime:        e.RequestTime,
		WorkflowInstanceID: e.WorkflowInstanceID,
		ExportTaskID:       e.ExportTaskID,
		CorrelationID:      e.CorrelationID,
		PatientID:          e.PatientID,
		StudyInstanceUID:   e.StudyInstanceUID,
		SeriesInstanceUID:  e.SeriesInstanceUID,
		SopInstanceUID:     e.SopInstanceUID,
		OriginalValues:     e.OriginalValues,
	}
}

func (d *executionDoc) toModel() (*Execution, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &Execution{
		ID:                 id,
		RequestTime:        d.RequestTime,
		WorkflowInstanceID: d.WorkflowInstanceID,
		ExportTaskID:       d.ExportTaskID,
		CorrelationID:      d.CorrelationID,
		PatientID:          d.PatientID,
		StudyInstanceUID:   d.StudyInstanceUID,
		SeriesInstanceUID:  d.SeriesInstanceUID,
		SopInstanceUID:     d.SopInstanceUID,
		OriginalValues:     d.OriginalValues,
	}, nil
}

type repoMongo struct{ coll *mongo.Collection }

func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection("remote_app_executions")}
}

func (r *repoMongo) Add(ctx context.Context, e *Execution) error {
	_, err := r.coll.InsertOne(ctx, toDoc(e))
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *repoMongo) findOne(ctx context.Context, filter bson.M) (*Execution, error) {
	var doc executionDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "request_time", Value: -1}})
	err := r.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *repoMongo) GetBySopInstanceUID(ctx context.Context, sopUID string) (*Execution, error) {
	return r.findOne(ctx, bson.M{"sop_instance_uid": sopUID})
}

func (r *repoMongo) GetByPatientID(ctx context.Context, patientID string) (*Execution, error) {
	return r.findOne(ctx, bson.M{"patient_id": patientID})
}

func (r *repoMongo) GetByStudyInstanceUID(ctx context.Context, studyUID string) (*Execution, error) {
	return r.findOne(ctx, bson.M{"study_instance_uid": studyUID})
}

func (r *repoMongo) GetByComposite(ctx context.Context, workflowInstanceID, exportTaskID, studyUID, seriesUID string) (*Execution, error) {
	if seriesUID != "" {
		e, err := r.findOne(ctx, bson.M{
			"workflow_instance_id": workflowInstanceID,
			"export_task_id":       exportTaskID,
			"study_instance_uid":   studyUID,
			"series_instance_uid":  seriesUID,
		})
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return r.findOne(ctx, bson.M{
		"workflow_instance_id": workflowInstanceID,
		"export_task_id":       exportTaskID,
		"study_instance_uid":   studyUID,
	})
}

func (r *repoMongo) Remove(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var doc executionDoc
	err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *repoMongo) List(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "request_time", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var items []*Execution
	for cursor.Next(ctx) {
		var doc executionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		e, err := doc.toModel()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, int(total), cursor.Err()
}
