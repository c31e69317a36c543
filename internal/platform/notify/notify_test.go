package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/internal/platform/storage"
)

func TestWorkflowRequestEvent_JSON(t *testing.T) {
	file := storage.NewHL7File("corr-1", "10.0.0.5", "MSG001", "ADT^A01")
	ev := WorkflowRequestEvent{
		PayloadID:     uuid.New(),
		Bucket:        "bucket-1",
		CorrelationID: "corr-1",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FileCount:     1,
		Files:         []storage.File{file},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded WorkflowRequestEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.PayloadID != ev.PayloadID {
		t.Errorf("expected payload ID %s, got %s", ev.PayloadID, decoded.PayloadID)
	}
	if decoded.CorrelationID != "corr-1" {
		t.Errorf("expected correlation 'corr-1', got %q", decoded.CorrelationID)
	}
	if len(decoded.Files) != 1 || decoded.Files[0].MessageControlID != "MSG001" {
		t.Errorf("files did not survive the round trip: %+v", decoded.Files)
	}
}

func TestWorkflowRequestEvent_OmitsEmptyWorkflowFields(t *testing.T) {
	ev := WorkflowRequestEvent{PayloadID: uuid.New()}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := raw["workflow_instance_id"]; ok {
		t.Error("expected workflow_instance_id to be omitted when empty")
	}
	if _, ok := raw["task_id"]; ok {
		t.Error("expected task_id to be omitted when empty")
	}
}
