// Package ingest exposes the HTTP ingestion surface: DICOMweb STOW-RS
// uploads and FHIR resource submissions. Accepted units are staged by the
// extractor and queued on the payload assembler under a per-request
// correlation ID.
package ingest

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/extractor"
	"github.com/medgate/medgate/internal/platform/storage"
)

// Queuer receives extracted files for aggregation.
type Queuer interface {
	Queue(ctx context.Context, key string, f storage.File, timeout time.Duration)
}

type Handler struct {
	extractor *extractor.Extractor
	queue     Queuer
	logger    zerolog.Logger
}

func NewHandler(ex *extractor.Extractor, queue Queuer, logger zerolog.Logger) *Handler {
	return &Handler{
		extractor: ex,
		queue:     queue,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/dicomweb/studies", h.StoreInstances)
	g.POST("/dicomweb/studies/:study", h.StoreInstances)
	g.POST("/fhir/:resourceType", h.StoreResource)
}

type partFailure struct {
	Part   int    `json:"part"`
	Reason string `json:"reason"`
}

type storeResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Accepted      []storage.File `json:"accepted"`
	Failed        []partFailure  `json:"failed,omitempty"`
}

// StoreInstances handles a STOW-RS multipart/related upload. Each part is
// extracted independently; one bad instance never rejects the rest. When the
// URL names a study, instances from other studies are refused.
func (h *Handler) StoreInstances(c echo.Context) error {
	mediaType, params, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil || mediaType != "multipart/related" || params["boundary"] == "" {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			"expected multipart/related with a boundary")
	}

	ctx := c.Request().Context()
	study := c.Param("study")
	correlationID := uuid.NewString()
	resp := storeResponse{CorrelationID: correlationID}

	mr := multipart.NewReader(c.Request().Body, params["boundary"])
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed multipart body")
		}

		f, exErr := h.extractor.ExtractDICOM(ctx, part, storage.ServiceDICOMWeb, correlationID, "", "")
		part.Close()
		if exErr != nil {
			h.logger.Warn().Err(exErr).Int("part", i).Msg("instance rejected")
			resp.Failed = append(resp.Failed, partFailure{Part: i, Reason: exErr.Error()})
			continue
		}
		if study != "" && f.StudyInstanceUID != study {
			h.logger.Warn().
				Int("part", i).
				Str("study", f.StudyInstanceUID).
				Msg("instance belongs to a different study")
			resp.Failed = append(resp.Failed, partFailure{Part: i, Reason: "instance belongs to a different study"})
			continue
		}

		h.queue.Queue(ctx, correlationID, f, 0)
		resp.Accepted = append(resp.Accepted, f)
	}

	switch {
	case len(resp.Accepted) == 0 && len(resp.Failed) > 0:
		return c.JSON(http.StatusConflict, resp)
	case len(resp.Failed) > 0:
		return c.JSON(http.StatusAccepted, resp)
	default:
		return c.JSON(http.StatusOK, resp)
	}
}

// StoreResource handles a FHIR resource submission.
func (h *Handler) StoreResource(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}

	ctx := c.Request().Context()
	correlationID := uuid.NewString()
	f, err := h.extractor.ExtractFHIR(ctx, body, c.Param("resourceType"), correlationID, c.RealIP())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h.queue.Queue(ctx, correlationID, f, 0)
	return c.JSON(http.StatusCreated, f)
}
