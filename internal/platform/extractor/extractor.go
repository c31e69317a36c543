// Package extractor turns received data units into storage metadata. Each
// supported service (HL7v2, DICOM, FHIR) has its own extraction path; all of
// them write the unit's bytes to the staging store and return a File record
// for the payload assembler.
package extractor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/domain/remoteapp"
	"github.com/medgate/medgate/internal/domain/routing"
	"github.com/medgate/medgate/internal/platform/storage"
)

// Router resolves routing configuration for inbound units.
type Router interface {
	MatchConfig(ctx context.Context, valueAt func(path string) string) (*routing.HL7Config, error)
	SourceByAETitle(ctx context.Context, aeTitle string) (*routing.SourceApplication, error)
	DestinationByAETitle(ctx context.Context, aeTitle string) (*routing.DestinationApplication, error)
}

// ExecutionResolver looks up outbound executions by the proxy identifiers a
// remote application echoes back.
type ExecutionResolver interface {
	FindByPatientID(ctx context.Context, patientID string) (*remoteapp.Execution, error)
	FindByStudyInstanceUID(ctx context.Context, studyUID string) (*remoteapp.Execution, error)
}

// Extractor is the shared state of all extraction paths.
type Extractor struct {
	router     Router
	executions ExecutionResolver
	store      storage.Store
	logger     zerolog.Logger
}

func New(router Router, executions ExecutionResolver, store storage.Store, logger zerolog.Logger) *Extractor {
	return &Extractor{
		router:     router,
		executions: executions,
		store:      store,
		logger:     logger.With().Str("component", "extractor").Logger(),
	}
}
