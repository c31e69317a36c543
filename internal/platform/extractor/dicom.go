package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/medgate/medgate/internal/domain/routing"
	"github.com/medgate/medgate/internal/platform/storage"
)

// ExtractDICOM parses an imaging object, verifies the association's AE
// titles against the registered applications, and stages the object bytes.
// callingAE and calledAE may be empty for transports that carry no
// association (DICOMweb uploads).
func (e *Extractor) ExtractDICOM(ctx context.Context, r io.Reader, service storage.DataService, correlationID, callingAE, calledAE string) (storage.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.File{}, extractionErr(service, "", fmt.Errorf("read object: %w", err))
	}

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return storage.File{}, extractionErr(service, "", fmt.Errorf("parse object: %w", err))
	}

	studyUID := stringTag(&ds, tag.StudyInstanceUID)
	seriesUID := stringTag(&ds, tag.SeriesInstanceUID)
	sopUID := stringTag(&ds, tag.SOPInstanceUID)
	if sopUID == "" {
		return storage.File{}, extractionErr(service, "", fmt.Errorf("object carries no SOP instance UID"))
	}

	source, err := e.resolveAEs(ctx, callingAE, calledAE)
	if err != nil {
		return storage.File{}, extractionErr(service, sopUID, err)
	}

	f := storage.NewDicomFile(service, correlationID, source, studyUID, seriesUID, sopUID)
	f.CallingAE = callingAE
	f.CalledAE = calledAE

	size, err := e.store.Save(f.RelativePath, bytes.NewReader(data))
	if err != nil {
		return storage.File{}, extractionErr(service, sopUID, err)
	}
	f.Size = size
	return f, nil
}

// resolveAEs checks the association identity against the registries. The
// returned source name labels the metadata; an unregistered AE title makes
// the unit undeliverable.
func (e *Extractor) resolveAEs(ctx context.Context, callingAE, calledAE string) (string, error) {
	source := callingAE
	if callingAE != "" {
		app, err := e.router.SourceByAETitle(ctx, callingAE)
		if err != nil {
			if errors.Is(err, routing.ErrNotFound) {
				return "", fmt.Errorf("calling AE title %q is not registered", callingAE)
			}
			return "", err
		}
		source = app.Name
	}
	if calledAE != "" {
		if _, err := e.router.DestinationByAETitle(ctx, calledAE); err != nil {
			if errors.Is(err, routing.ErrNotFound) {
				return "", fmt.Errorf("called AE title %q is not registered", calledAE)
			}
			return "", err
		}
	}
	return source, nil
}

func stringTag(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if vals, ok := el.Value.GetValue().([]string); ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}
