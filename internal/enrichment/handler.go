package enrichment

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
	"github.com/crimelens-lab/crimelens/internal/core/catalog"
	httperr "github.com/crimelens-lab/crimelens/internal/core/errors"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidJSON    = "Invalid JSON body"
	msgJobConflict    = "Enrichment already running for this scope"
	msgNoActiveJob    = "No active enrichment job for this scope"
	msgUpstreamFailed = "Upstream acquisition failed"
)

// enrichmentError carries the structured HTTP error shape from a helper back to the handler.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type enrichmentError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *enrichmentError) Error() string {
	return e.message
}

// Handler exposes the enrichment API over HTTP.
type Handler struct {
	enricher *Enricher
	bulk     *BulkDispatcher
	catalog  *catalog.Catalog
}

func NewHandler(enricher *Enricher, bulk *BulkDispatcher, cat *catalog.Catalog) *Handler {
	if enricher == nil {
		panic("enrichment: enricher must not be nil")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Handler{enricher: enricher, bulk: bulk, catalog: cat}
}

// RegisterRoutes registers the enrichment API routes.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/enrich/:scope_key", h.EnrichHandler)
	r.DELETE("/v1/enrich/:scope_key", h.CancelHandler)
	r.POST("/v1/enrich-bulk", h.BulkHandler)
	r.GET("/v1/offenses", h.OffensesHandler)
}

// EnrichHandler handles POST /v1/enrich/:scope_key. The run is synchronous:
// the response carries the final result. A concurrent run for the same scope
// yields 409 with the live job's identifier.
func (h *Handler) EnrichHandler(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received enrichment request",
		"scope_key", req.ScopeKey,
		"years", req.Years,
		"offenses", len(req.Offenses),
		"force_refresh", req.ForceRefresh)

	result, runErr := h.enricher.Enrich(c.Request.Context(), *req, nil)
	if runErr != nil {
		if result != nil && IsCancellation(runErr) {
			// Cancelled mid-run: surface whatever was acquired so far.
			c.JSON(http.StatusAccepted, result)
			return
		}
		writeError(c, classifyRunError(req.ScopeKey, runErr))
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// CancelHandler handles DELETE /v1/enrich/:scope_key.
func (h *Handler) CancelHandler(c *gin.Context) {
	scopeKey := c.Param("scope_key")
	if !h.enricher.Cancel(scopeKey) {
		writeError(c, &enrichmentError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpNotFoundError,
			message:    msgNoActiveJob,
			details:    map[string]interface{}{"scope_key": scopeKey},
		})
		return
	}

	slog.Info("Cancellation requested", "scope_key", scopeKey)
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "scope_key": scopeKey})
}

// BulkHandler handles POST /v1/enrich-bulk: fan-out of provider-side jobs
// for many counties.
func (h *Handler) BulkHandler(c *gin.Context) {
	if h.bulk == nil {
		writeError(c, &enrichmentError{
			statusCode: http.StatusNotImplemented,
			errorType:  httperr.HttpInternalError,
			message:    "Bulk dispatch is not configured",
		})
		return
	}

	var body struct {
		CountyIDs []string `json:"county_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		slog.Warn("Invalid JSON body received", "error", err)
		writeError(c, &enrichmentError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		})
		return
	}
	if len(body.CountyIDs) == 0 {
		writeError(c, &enrichmentError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    "county_ids must not be empty",
		})
		return
	}

	report, err := h.bulk.Dispatch(c.Request.Context(), body.CountyIDs)
	if err != nil {
		slog.Error("Bulk dispatch aborted", "error", err)
		writeError(c, &enrichmentError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// OffensesHandler handles GET /v1/offenses: the ordered offense catalog.
func (h *Handler) OffensesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"offenses":         h.catalog.Offenses(),
		"extraction_years": catalog.ExtractionYears(),
	})
}

// parseRequest binds the optional JSON body and fills the scope key from
// the path. An empty body means "everything with defaults".
func (h *Handler) parseRequest(c *gin.Context) (*v1.EnrichmentRequest, *enrichmentError) {
	var req v1.EnrichmentRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("Invalid JSON body received", "error", err)
			return nil, &enrichmentError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidJsonError,
				message:    msgInvalidJSON,
			}
		}
	}

	req.ScopeKey = c.Param("scope_key")
	if err := req.Validate(); err != nil {
		slog.Warn("Enrichment request validation failed", "error", err, "scope_key", req.ScopeKey)
		return nil, &enrichmentError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		}
	}
	return &req, nil
}

// classifyRunError maps orchestrator failures onto the HTTP error shape.
func classifyRunError(scopeKey string, err error) *enrichmentError {
	var running *AlreadyRunningError
	if errors.As(err, &running) {
		return &enrichmentError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpJobConflictError,
			message:    msgJobConflict,
			details: map[string]interface{}{
				"scope_key": scopeKey,
				"job_id":    running.Token.JobID.String(),
			},
		}
	}

	if errors.Is(err, ErrInvalidRequest) {
		return &enrichmentError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		}
	}

	slog.Error("Enrichment failed", "scope_key", scopeKey, "error", err)
	return &enrichmentError{
		statusCode: http.StatusBadGateway,
		errorType:  httperr.HttpUpstreamError,
		message:    msgUpstreamFailed,
	}
}

// writeError serializes an enrichmentError as the JSON HTTP response.
func writeError(c *gin.Context, err *enrichmentError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
