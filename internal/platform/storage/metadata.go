// Package storage describes received data units and owns the on-disk staging
// area they are written to before a workflow picks them up.
package storage

import (
	"path"
	"time"

	"github.com/google/uuid"
)

// DataService identifies the ingestion service a file arrived through.
type DataService string

const (
	ServiceDIMSE    DataService = "dimse"
	ServiceDICOMWeb DataService = "dicomweb"
	ServiceFHIR     DataService = "fhir"
	ServiceHL7      DataService = "hl7"
)

// File is the metadata record for a single received data unit. Fields beyond
// the common block are populated according to Service.
type File struct {
	ID            uuid.UUID   `json:"id" bson:"id"`
	CorrelationID string      `json:"correlation_id" bson:"correlation_id"`
	Service       DataService `json:"service" bson:"service"`
	Source        string      `json:"source" bson:"source"`
	ReceivedAt    time.Time   `json:"received_at" bson:"received_at"`
	RelativePath  string      `json:"relative_path" bson:"relative_path"`
	Size          int64       `json:"size" bson:"size"`

	// Imaging objects.
	StudyInstanceUID  string `json:"study_instance_uid,omitempty" bson:"study_instance_uid,omitempty"`
	SeriesInstanceUID string `json:"series_instance_uid,omitempty" bson:"series_instance_uid,omitempty"`
	SOPInstanceUID    string `json:"sop_instance_uid,omitempty" bson:"sop_instance_uid,omitempty"`
	CallingAE         string `json:"calling_ae,omitempty" bson:"calling_ae,omitempty"`
	CalledAE          string `json:"called_ae,omitempty" bson:"called_ae,omitempty"`

	// Clinical messages.
	MessageControlID string `json:"message_control_id,omitempty" bson:"message_control_id,omitempty"`
	MessageType      string `json:"message_type,omitempty" bson:"message_type,omitempty"`

	// Structured documents.
	ResourceType string `json:"resource_type,omitempty" bson:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty" bson:"resource_id,omitempty"`

	// Stamped when an upstream workflow already owns this unit.
	WorkflowInstanceID string `json:"workflow_instance_id,omitempty" bson:"workflow_instance_id,omitempty"`
	TaskID             string `json:"task_id,omitempty" bson:"task_id,omitempty"`
}

// NewFile creates the common metadata block for a received unit. The relative
// path groups files by correlation ID so a payload's contents sit together.
func NewFile(service DataService, correlationID, source, name string) File {
	id := uuid.New()
	return File{
		ID:            id,
		CorrelationID: correlationID,
		Service:       service,
		Source:        source,
		ReceivedAt:    time.Now().UTC(),
		RelativePath:  path.Join(correlationID, name),
	}
}

// NewDicomFile creates metadata for an imaging object.
func NewDicomFile(service DataService, correlationID, source, studyUID, seriesUID, sopUID string) File {
	f := NewFile(service, correlationID, source, sopUID+".dcm")
	f.StudyInstanceUID = studyUID
	f.SeriesInstanceUID = seriesUID
	f.SOPInstanceUID = sopUID
	return f
}

// NewHL7File creates metadata for a clinical message.
func NewHL7File(correlationID, source, controlID, messageType string) File {
	f := NewFile(ServiceHL7, correlationID, source, hl7FileName(controlID))
	f.MessageControlID = controlID
	f.MessageType = messageType
	return f
}

// NewFHIRFile creates metadata for a structured document.
func NewFHIRFile(correlationID, source, resourceType, resourceID string) File {
	f := NewFile(ServiceFHIR, correlationID, source, resourceType+"-"+resourceID+".json")
	f.ResourceType = resourceType
	f.ResourceID = resourceID
	return f
}

// Control IDs are sender-chosen and may repeat, so HL7 file names carry a
// fresh UUID suffix.
func hl7FileName(controlID string) string {
	suffix := uuid.NewString()
	if controlID == "" {
		return suffix + ".hl7"
	}
	return controlID + "-" + suffix + ".hl7"
}
