package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/medgate/medgate/internal/platform/storage"
)

// ExtractFHIR validates a structured document and stages its bytes. The
// body must be a JSON resource whose resourceType matches the one declared
// by the caller (the URL segment on a FHIR ingest).
func (e *Extractor) ExtractFHIR(ctx context.Context, body []byte, declaredType, correlationID, source string) (storage.File, error) {
	var envelope struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return storage.File{}, extractionErr(storage.ServiceFHIR, declaredType,
			fmt.Errorf("parse resource: %w", err))
	}
	if envelope.ResourceType == "" {
		return storage.File{}, extractionErr(storage.ServiceFHIR, declaredType,
			fmt.Errorf("resource carries no resourceType"))
	}
	if declaredType != "" && envelope.ResourceType != declaredType {
		return storage.File{}, extractionErr(storage.ServiceFHIR, declaredType,
			fmt.Errorf("resourceType %q does not match declared type %q", envelope.ResourceType, declaredType))
	}

	id := envelope.ID
	if id == "" {
		id = "unidentified"
	}

	f := storage.NewFHIRFile(correlationID, source, envelope.ResourceType, id)
	size, err := e.store.Save(f.RelativePath, bytes.NewReader(body))
	if err != nil {
		return storage.File{}, extractionErr(storage.ServiceFHIR, envelope.ResourceType+"/"+id, err)
	}
	f.Size = size
	return f, nil
}
