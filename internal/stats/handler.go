package stats

import (
	"errors"
	"net/http"

	httperr "github.com/crimelens-lab/crimelens/internal/core/errors"
	"github.com/crimelens-lab/crimelens/internal/provider"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all stats API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/series/:level/:scope_key", s.HandleQuerySeries)
	r.POST("/v1/series/calculate", s.HandleCalculate)
}

// HandleQuerySeries handles GET /v1/series/:level/:scope_key
// Query parameters: offense, mode, reference_year, window_size, skip_absent_years
func (s *Service) HandleQuerySeries(c *gin.Context) {
	var uri struct {
		Level    string `uri:"level" binding:"required"`
		ScopeKey string `uri:"scope_key" binding:"required"`
	}
	var query struct {
		Offense         string `form:"offense"`
		Mode            string `form:"mode"`
		ReferenceYear   int    `form:"reference_year"`
		WindowSize      int    `form:"window_size"`
		SkipAbsentYears bool   `form:"skip_absent_years"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.QuerySeries(c.Request.Context(), SeriesQuery{
		Level:           uri.Level,
		ScopeKey:        uri.ScopeKey,
		Offense:         query.Offense,
		Mode:            query.Mode,
		ReferenceYear:   query.ReferenceYear,
		WindowSize:      query.WindowSize,
		SkipAbsentYears: query.SkipAbsentYears,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleCalculate handles POST /v1/series/calculate: collapse a caller
// supplied series without touching the provider.
func (s *Service) HandleCalculate(c *gin.Context) {
	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.Calculate(req)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid series query",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrSeriesNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "No series for the requested scope",
			Details:   err.Error(),
		})
	default:
		var status *provider.StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "No series for the requested scope",
				Details:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, httperr.ErrorResponse{
			ErrorType: httperr.HttpUpstreamError,
			Message:   "Failed to resolve series",
			Details:   err.Error(),
		})
	}
}
