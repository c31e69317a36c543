package extractor

import (
	"errors"
	"fmt"

	"github.com/medgate/medgate/internal/platform/storage"
)

// ErrConfigNotFound means no routing configuration matched the unit's
// sending application. The unit is undeliverable; there is nothing to retry.
var ErrConfigNotFound = errors.New("extractor: no matching routing config")

// ExtractionError wraps any failure to turn a received unit into storage
// metadata. Unit identifies the failed item in the sender's terms (control
// ID, SOP instance UID, resource reference).
type ExtractionError struct {
	Service storage.DataService
	Unit    string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("extract %s unit: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("extract %s unit %s: %v", e.Service, e.Unit, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func extractionErr(service storage.DataService, unit string, err error) *ExtractionError {
	return &ExtractionError{Service: service, Unit: unit, Err: err}
}
