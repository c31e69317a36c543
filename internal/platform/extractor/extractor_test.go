package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/domain/remoteapp"
	"github.com/medgate/medgate/internal/domain/routing"
	"github.com/medgate/medgate/internal/platform/hl7v2"
	"github.com/medgate/medgate/internal/platform/storage"
)

type fakeRouter struct {
	configs      []*routing.HL7Config
	sources      map[string]*routing.SourceApplication
	destinations map[string]*routing.DestinationApplication
}

func (f *fakeRouter) MatchConfig(_ context.Context, valueAt func(string) string) (*routing.HL7Config, error) {
	for _, c := range f.configs {
		if c.Matches(valueAt) {
			return c, nil
		}
	}
	return nil, routing.ErrNotFound
}

func (f *fakeRouter) SourceByAETitle(_ context.Context, aeTitle string) (*routing.SourceApplication, error) {
	if app, ok := f.sources[aeTitle]; ok {
		return app, nil
	}
	return nil, routing.ErrNotFound
}

func (f *fakeRouter) DestinationByAETitle(_ context.Context, aeTitle string) (*routing.DestinationApplication, error) {
	if app, ok := f.destinations[aeTitle]; ok {
		return app, nil
	}
	return nil, routing.ErrNotFound
}

type fakeResolver struct {
	byPatient map[string]*remoteapp.Execution
	byStudy   map[string]*remoteapp.Execution
}

func (f *fakeResolver) FindByPatientID(_ context.Context, patientID string) (*remoteapp.Execution, error) {
	if e, ok := f.byPatient[patientID]; ok {
		return e, nil
	}
	return nil, remoteapp.ErrNotFound
}

func (f *fakeResolver) FindByStudyInstanceUID(_ context.Context, studyUID string) (*remoteapp.Execution, error) {
	if e, ok := f.byStudy[studyUID]; ok {
		return e, nil
	}
	return nil, remoteapp.ErrNotFound
}

func testExtractor(t *testing.T, router Router, resolver ExecutionResolver) (*Extractor, storage.Store) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return New(router, resolver, store, zerolog.Nop()), store
}

func parseHL7(t *testing.T, raw string) *hl7v2.Message {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	return msg
}

const testORU = "MSH|^~\\&|PACS|HOSP|GATEWAY|GATEWAY|20240102030405||ORU^R01|CTRL-1|P|2.5.1\r" +
	"PID|1||PROXY-77\r"

func pacsConfig() *routing.HL7Config {
	return &routing.HL7Config{
		Name:           "pacs-results",
		SendingIDField: "MSH-3",
		SendingIDValue: "PACS",
		DataLinkField:  "PID-3.1",
		DataLinkType:   routing.LinkPatientID,
		DataMappings:   map[string]string{"PID-3.1": "PatientID"},
	}
}

func readStored(t *testing.T, store storage.Store, relPath string) string {
	t.Helper()
	rc, err := store.Open(relPath)
	if err != nil {
		t.Fatalf("open %s: %v", relPath, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", relPath, err)
	}
	return string(data)
}

func TestExtractHL7_NoConfig(t *testing.T) {
	e, _ := testExtractor(t, &fakeRouter{}, &fakeResolver{})

	msg := parseHL7(t, testORU)
	_, err := e.ExtractHL7(context.Background(), msg, "corr-1", "10.0.0.9")

	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExtractionError, got %v", err)
	}
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
	if exErr.Unit != "CTRL-1" {
		t.Errorf("expected unit CTRL-1, got %q", exErr.Unit)
	}
}

func TestExtractHL7_NoExecutionOnRecord(t *testing.T) {
	router := &fakeRouter{configs: []*routing.HL7Config{pacsConfig()}}
	e, store := testExtractor(t, router, &fakeResolver{})

	msg := parseHL7(t, testORU)
	f, err := e.ExtractHL7(context.Background(), msg, "corr-1", "10.0.0.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.Service != storage.ServiceHL7 {
		t.Errorf("expected hl7 service, got %s", f.Service)
	}
	if f.CorrelationID != "corr-1" {
		t.Errorf("correlation ID changed to %q", f.CorrelationID)
	}
	if f.WorkflowInstanceID != "" {
		t.Errorf("unexpected workflow stamp %q", f.WorkflowInstanceID)
	}
	if f.MessageControlID != "CTRL-1" || f.MessageType != "ORU^R01" {
		t.Errorf("unexpected message identity: %q %q", f.MessageControlID, f.MessageType)
	}

	stored := readStored(t, store, f.RelativePath)
	if !strings.Contains(stored, "PROXY-77") {
		t.Error("message body should be stored unmodified")
	}
}

func TestExtractHL7_RestoresOriginalValues(t *testing.T) {
	router := &fakeRouter{configs: []*routing.HL7Config{pacsConfig()}}
	resolver := &fakeResolver{byPatient: map[string]*remoteapp.Execution{
		"PROXY-77": {
			WorkflowInstanceID: "wf-1",
			ExportTaskID:       "task-1",
			CorrelationID:      "corr-export",
			PatientID:          "PROXY-77",
			OriginalValues:     map[string]string{"PatientID": "MRN-0042"},
		},
	}}
	e, store := testExtractor(t, router, resolver)

	msg := parseHL7(t, testORU)
	f, err := e.ExtractHL7(context.Background(), msg, "corr-session", "10.0.0.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.WorkflowInstanceID != "wf-1" || f.TaskID != "task-1" {
		t.Errorf("workflow stamp missing: %q %q", f.WorkflowInstanceID, f.TaskID)
	}
	if f.CorrelationID != "corr-export" {
		t.Errorf("expected export correlation ID, got %q", f.CorrelationID)
	}

	stored := readStored(t, store, f.RelativePath)
	if !strings.Contains(stored, "MRN-0042") {
		t.Error("original patient ID was not restored")
	}
	if strings.Contains(stored, "PROXY-77") {
		t.Error("proxy patient ID still present after restoration")
	}
}

func TestExtractHL7_StudyDataLink(t *testing.T) {
	cfg := pacsConfig()
	cfg.DataLinkField = "OBR-18"
	cfg.DataLinkType = routing.LinkStudyInstanceUID
	cfg.DataMappings = map[string]string{}
	router := &fakeRouter{configs: []*routing.HL7Config{cfg}}
	resolver := &fakeResolver{byStudy: map[string]*remoteapp.Execution{
		"1.2.3": {WorkflowInstanceID: "wf-2", ExportTaskID: "task-2"},
	}}
	e, _ := testExtractor(t, router, resolver)

	msg := parseHL7(t, testORU+"OBR|1|||||||||||||||||1.2.3\r")
	f, err := e.ExtractHL7(context.Background(), msg, "corr-1", "10.0.0.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.WorkflowInstanceID != "wf-2" {
		t.Errorf("expected wf-2, got %q", f.WorkflowInstanceID)
	}
}

func TestExtractFHIR(t *testing.T) {
	e, store := testExtractor(t, &fakeRouter{}, &fakeResolver{})

	body := []byte(`{"resourceType":"Patient","id":"pat-1","active":true}`)
	f, err := e.ExtractFHIR(context.Background(), body, "Patient", "corr-1", "ehr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ResourceType != "Patient" || f.ResourceID != "pat-1" {
		t.Errorf("unexpected resource identity: %q %q", f.ResourceType, f.ResourceID)
	}
	if f.Size != int64(len(body)) {
		t.Errorf("expected size %d, got %d", len(body), f.Size)
	}
	if got := readStored(t, store, f.RelativePath); got != string(body) {
		t.Error("stored body differs from submitted body")
	}
}

func TestExtractFHIR_Rejects(t *testing.T) {
	e, _ := testExtractor(t, &fakeRouter{}, &fakeResolver{})
	ctx := context.Background()

	cases := []struct {
		name     string
		body     string
		declared string
	}{
		{"invalid json", `{"resourceType":`, "Patient"},
		{"missing resourceType", `{"id":"x"}`, "Patient"},
		{"type mismatch", `{"resourceType":"Observation","id":"x"}`, "Patient"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.ExtractFHIR(ctx, []byte(tc.body), tc.declared, "corr-1", "ehr")
			var exErr *ExtractionError
			if !errors.As(err, &exErr) {
				t.Fatalf("expected *ExtractionError, got %v", err)
			}
		})
	}
}

func TestExtractDICOM_Malformed(t *testing.T) {
	e, _ := testExtractor(t, &fakeRouter{}, &fakeResolver{})

	_, err := e.ExtractDICOM(context.Background(), bytes.NewReader([]byte("not a dicom object")),
		storage.ServiceDICOMWeb, "corr-1", "", "")
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExtractionError, got %v", err)
	}
	if exErr.Service != storage.ServiceDICOMWeb {
		t.Errorf("expected dicomweb service, got %s", exErr.Service)
	}
}

func TestResolveAEs(t *testing.T) {
	router := &fakeRouter{
		sources: map[string]*routing.SourceApplication{
			"CT01": {Name: "ct-scanner", AETitle: "CT01"},
		},
		destinations: map[string]*routing.DestinationApplication{
			"GATEWAY": {Name: "gateway", AETitle: "GATEWAY"},
		},
	}
	e, _ := testExtractor(t, router, &fakeResolver{})
	ctx := context.Background()

	source, err := e.resolveAEs(ctx, "CT01", "GATEWAY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "ct-scanner" {
		t.Errorf("expected source name ct-scanner, got %q", source)
	}

	if _, err := e.resolveAEs(ctx, "ROGUE", "GATEWAY"); err == nil {
		t.Error("expected error for unregistered calling AE")
	}
	if _, err := e.resolveAEs(ctx, "CT01", "ELSEWHERE"); err == nil {
		t.Error("expected error for unregistered called AE")
	}
	if source, err := e.resolveAEs(ctx, "", ""); err != nil || source != "" {
		t.Errorf("empty AE titles should pass: %q %v", source, err)
	}
}
