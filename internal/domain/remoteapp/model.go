// Package remoteapp tracks studies exported to remote applications so that
// results coming back with proxy identifiers can be restored to their
// original values.
package remoteapp

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Execution records one outbound export. The UID fields hold the proxy
// values sent to the remote application; OriginalValues snapshots the real
// values keyed by DICOM tag keyword.
type Execution struct {
	ID                 uuid.UUID         `json:"id"`
	RequestTime        time.Time         `json:"request_time"`
	WorkflowInstanceID string            `json:"workflow_instance_id"`
	ExportTaskID       string            `json:"export_task_id"`
	CorrelationID      string            `json:"correlation_id"`
	PatientID          string            `json:"patient_id"`
	StudyInstanceUID   string            `json:"study_instance_uid"`
	SeriesInstanceUID  string            `json:"series_instance_uid"`
	SopInstanceUID     string            `json:"sop_instance_uid"`
	OriginalValues     map[string]string `json:"original_values"`
}

// Validate checks the record can later be looked up by at least one key.
func (e *Execution) Validate() error {
	if e.WorkflowInstanceID == "" {
		return fmt.Errorf("workflow_instance_id is required")
	}
	if e.ExportTaskID == "" {
		return fmt.Errorf("export_task_id is required")
	}
	if e.StudyInstanceUID == "" && e.SopInstanceUID == "" {
		return fmt.Errorf("study_instance_uid or sop_instance_uid is required")
	}
	return nil
}

// OriginalValue returns the snapshotted value for a DICOM tag keyword.
func (e *Execution) OriginalValue(keyword string) (string, bool) {
	v, ok := e.OriginalValues[keyword]
	return v, ok
}
