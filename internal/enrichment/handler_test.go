package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
	"github.com/crimelens-lab/crimelens/internal/core/catalog"
	httperr "github.com/crimelens-lab/crimelens/internal/core/errors"
	"github.com/crimelens-lab/crimelens/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, fetcher *stubFetcher, prober Prober, bulk *BulkDispatcher) (*gin.Engine, *Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enricher, reg := newTestEnricher(fetcher, prober, nil)
	h := NewHandler(enricher, bulk, catalog.Default())

	r := gin.New()
	h.RegisterRoutes(r)
	return r, reg
}

func decodeError(t *testing.T, body *bytes.Buffer) httperr.ErrorResponse {
	t.Helper()
	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestEnrichHandler_Success(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return countResponse(5), nil
		},
	}
	r, _ := newTestRouter(t, fetcher, &countingProber{}, nil)

	body, _ := json.Marshal(map[string]interface{}{"offenses": []string{"HOM", "ROB"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var result v1.EnrichmentResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.True(t, result.Success)
	require.Equal(t, 10, result.TotalRecords)
	require.Equal(t, []string{"HOM", "ROB"}, fetcher.callOrder())
}

func TestEnrichHandler_EmptyBodyUsesDefaults(t *testing.T) {
	fetcher := &stubFetcher{
		respond: func(string, int) (*provider.FetchResponse, error) {
			return &provider.FetchResponse{}, nil
		},
	}
	r, _ := newTestRouter(t, fetcher, &countingProber{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	// With no body the full catalog is attempted.
	require.Len(t, fetcher.callOrder(), catalog.Default().Len())
}

func TestEnrichHandler_InvalidJSON(t *testing.T) {
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	}}, &countingProber{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, httperr.HttpInvalidJsonError, decodeError(t, resp.Body).ErrorType)
}

func TestEnrichHandler_UnknownOffense(t *testing.T) {
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	}}, &countingProber{}, nil)

	body, _ := json.Marshal(map[string]interface{}{"offenses": []string{"NOPE"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, httperr.HttpInvalidRequestError, decodeError(t, resp.Body).ErrorType)
}

func TestEnrichHandler_ConflictReturnsLiveJobID(t *testing.T) {
	r, reg := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return countResponse(1), nil
	}}, &countingProber{}, nil)

	live, _, err := reg.Start(context.Background(), "CA0194200")
	require.NoError(t, err)
	defer reg.Finish(live)

	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	errResp := decodeError(t, resp.Body)
	require.Equal(t, httperr.HttpJobConflictError, errResp.ErrorType)

	details, ok := errResp.Details.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, live.ID.String(), details["job_id"])
}

func TestEnrichHandler_BudgetExhaustedIsBadGateway(t *testing.T) {
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return nil, fmt.Errorf("upstream 500")
	}}, &countingProber{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/enrich/CA0194200", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadGateway, resp.Code)

	var result v1.EnrichmentResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.False(t, result.Success)
}

func TestCancelHandler(t *testing.T) {
	r, reg := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return countResponse(1), nil
	}}, &countingProber{}, nil)

	// No live job yet.
	req := httptest.NewRequest(http.MethodDelete, "/v1/enrich/CA0194200", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, httperr.HttpNotFoundError, decodeError(t, resp.Body).ErrorType)

	// With a live job the cancel is accepted.
	live, jobCtx, err := reg.Start(context.Background(), "CA0194200")
	require.NoError(t, err)
	defer reg.Finish(live)

	req = httptest.NewRequest(http.MethodDelete, "/v1/enrich/CA0194200", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.ErrorIs(t, jobCtx.Err(), context.Canceled)
}

func TestBulkHandler(t *testing.T) {
	queuer := &stubQueuer{failFor: map[string]bool{"48201": true}}
	bulk := NewBulkDispatcher(queuer, "county_enrichment", 2)
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return countResponse(1), nil
	}}, &countingProber{}, bulk)

	body, _ := json.Marshal(map[string]interface{}{"county_ids": []string{"06001", "48201"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/enrich-bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var report BulkReport
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &report))
	require.Len(t, report.Queued, 1)
	require.Len(t, report.Failed, 1)
}

func TestBulkHandler_EmptyCounties(t *testing.T) {
	bulk := NewBulkDispatcher(&stubQueuer{}, "county_enrichment", 2)
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return countResponse(1), nil
	}}, &countingProber{}, bulk)

	body, _ := json.Marshal(map[string]interface{}{"county_ids": []string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/enrich-bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, httperr.HttpInvalidRequestError, decodeError(t, resp.Body).ErrorType)
}

func TestOffensesHandler(t *testing.T) {
	r, _ := newTestRouter(t, &stubFetcher{respond: func(string, int) (*provider.FetchResponse, error) {
		return countResponse(1), nil
	}}, &countingProber{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/offenses", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Offenses        []catalog.Offense `json:"offenses"`
		ExtractionYears []int             `json:"extraction_years"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Offenses, 16)
	require.Equal(t, "HOM", body.Offenses[0].Code)
	require.Equal(t, []int{2020, 2021, 2022, 2023, 2024}, body.ExtractionYears)
}
