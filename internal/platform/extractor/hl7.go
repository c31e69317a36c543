package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/medgate/medgate/internal/domain/remoteapp"
	"github.com/medgate/medgate/internal/domain/routing"
	"github.com/medgate/medgate/internal/platform/hl7v2"
	"github.com/medgate/medgate/internal/platform/storage"
)

// ExtractHL7 routes a clinical message, restores any proxied identifiers,
// and stages the (possibly rewritten) message bytes.
//
// Routing first matches a configuration on the message's sending ID. The
// configured data link field then names the proxy identifier under which an
// outbound execution may be on record; when one is found, the original
// values snapshotted at export time are written back into the message and
// the metadata is stamped with the owning workflow.
func (e *Extractor) ExtractHL7(ctx context.Context, msg *hl7v2.Message, correlationID, source string) (storage.File, error) {
	cfg, err := e.router.MatchConfig(ctx, msg.Value)
	if err != nil {
		if errors.Is(err, routing.ErrNotFound) {
			err = fmt.Errorf("%w: sending application %q", ErrConfigNotFound, msg.SendingApp)
		}
		return storage.File{}, extractionErr(storage.ServiceHL7, msg.ControlID, err)
	}

	f := storage.NewHL7File(correlationID, source, msg.ControlID, msg.Type)

	exec, err := e.resolveExecution(ctx, cfg, msg)
	switch {
	case err == nil:
		e.restoreOriginalValues(cfg, msg, exec)
		f.WorkflowInstanceID = exec.WorkflowInstanceID
		f.TaskID = exec.ExportTaskID
		if exec.CorrelationID != "" {
			f.CorrelationID = exec.CorrelationID
		}
	case errors.Is(err, remoteapp.ErrNotFound):
		// Not every message relates to an outbound execution; pass it
		// through untouched.
		e.logger.Debug().
			Str("control_id", msg.ControlID).
			Str("data_link", cfg.DataLinkField).
			Msg("no execution on record for message")
	default:
		return storage.File{}, extractionErr(storage.ServiceHL7, msg.ControlID, err)
	}

	size, err := e.store.Save(f.RelativePath, bytes.NewReader(hl7v2.SerializeMessage(msg)))
	if err != nil {
		return storage.File{}, extractionErr(storage.ServiceHL7, msg.ControlID, err)
	}
	f.Size = size
	return f, nil
}

func (e *Extractor) resolveExecution(ctx context.Context, cfg *routing.HL7Config, msg *hl7v2.Message) (*remoteapp.Execution, error) {
	linkValue := msg.Value(cfg.DataLinkField)
	if linkValue == "" {
		return nil, remoteapp.ErrNotFound
	}
	switch cfg.DataLinkType {
	case routing.LinkPatientID:
		return e.executions.FindByPatientID(ctx, linkValue)
	case routing.LinkStudyInstanceUID:
		return e.executions.FindByStudyInstanceUID(ctx, linkValue)
	default:
		return nil, fmt.Errorf("unknown data link type %q", cfg.DataLinkType)
	}
}

// restoreOriginalValues rewrites each mapped HL7 path whose DICOM keyword
// has a snapshotted original. Paths that cannot be written are logged and
// skipped; a partial restoration is still deliverable.
func (e *Extractor) restoreOriginalValues(cfg *routing.HL7Config, msg *hl7v2.Message, exec *remoteapp.Execution) {
	for path, keyword := range cfg.DataMappings {
		orig, ok := exec.OriginalValue(keyword)
		if !ok {
			continue
		}
		if err := msg.SetValue(path, orig); err != nil {
			e.logger.Warn().Err(err).
				Str("path", path).
				Str("keyword", keyword).
				Msg("could not restore original value")
		}
	}
}
