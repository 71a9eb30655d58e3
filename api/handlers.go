/*
handlers.go - HTTP API handlers for the trade ledger engine

PURPOSE:
  Exposes the stock, rebuild, analysis, overview and invoice operations
  of ledger.Engine over REST. Handles request parsing, JSON
  serialization, and maps engine errors to HTTP status codes.

ENDPOINTS:
  Stock (also mounted at /api/inventory):
    GET    /api/stock                        Paged stock listing
    POST   /api/stock/refresh                Recompute stock cache
    GET    /api/stock/total-cost-estimate    Cached cost estimate

  Rebuild:
    POST   /api/stock-rebuild/rebuild        Replay ledger into stock_ledger
    GET    /api/stock-rebuild/progress       Current or last run

  Analysis:
    GET    /api/analysis/data                Cached result (503 if absent)
    GET    /api/analysis/detail              Cached breakdown
    POST   /api/analysis/refresh             Recompute one filter
    POST   /api/analysis/clean-cache         Drop expired results

  Overview:
    GET    /api/overview/stats               Cached stats
    POST   /api/overview/stats               Recompute stats
    GET    /api/overview/top-sales-products
    GET    /api/overview/monthly-stock-change/{productModel}

  Invoices (side = receivable | payable):
    GET    /api/{side}/invoices/{partnerCode}
    POST   /api/{side}/invoices/{partnerCode}/refresh

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid filter, date range or paging
  - 404: Unknown product
  - 409: Rebuild already running
  - 503: Analysis not generated yet, refresh first
  - 500: Store failures and aborted rebuilds

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/engine.go: Operations behind every route
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Logger  *zap.Logger
	Metrics http.Handler // served on /metrics when set
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *ledger.Engine, logger *zap.Logger, metrics http.Handler) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Logger: logger, Metrics: metrics}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// GetStock returns one page of the stock listing.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePaging(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	result, err := h.Engine.GetStock(r.Context(), ledger.StockQuery{
		Product:  r.URL.Query().Get("product_model"),
		Page:     page,
		PageSize: limit,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RefreshStock recomputes the stock cache.
func (h *Handler) RefreshStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.RefreshStock(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StockRefreshResponse{
		Success:       true,
		Message:       "stock cache refreshed",
		ProductsCount: result.ProductsCount,
		LastUpdated:   result.LastUpdated,
	})
}

// GetStockCostEstimate returns the cached total cost estimate.
func (h *Handler) GetStockCostEstimate(w http.ResponseWriter, r *http.Request) {
	estimate, err := h.Engine.StockCostEstimate(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// =============================================================================
// REBUILD HANDLERS
// =============================================================================

// RebuildStockLedger runs the replay to completion and reports counts.
func (h *Handler) RebuildStockLedger(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.RebuildStockLedger(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{
		Success:          true,
		JobID:            result.JobID,
		RecordsProcessed: result.RecordsProcessed,
		Expected:         result.Expected,
		Products:         len(result.Balances),
	})
}

// GetRebuildProgress returns the running or last finished rebuild.
func (h *Handler) GetRebuildProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.RebuildProgress())
}

// =============================================================================
// ANALYSIS HANDLERS
// =============================================================================

// GetAnalysis returns a cached analysis result.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	result, err := h.Engine.GetAnalysis(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetAnalysisDetail returns the breakdown of a cached result, or an
// empty list when none is cached.
func (h *Handler) GetAnalysisDetail(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	details, err := h.Engine.GetAnalysisDetail(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// RefreshAnalysis recomputes one filter. The filter is read from a JSON
// body, or from the query string when the body is empty.
func (h *Handler) RefreshAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req == (AnalysisRequest{}) {
		req = analysisRequestFromQuery(r)
	}

	f, err := ledger.ParseFilter(req.StartDate, req.EndDate, req.CustomerCode, req.ProductModel)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	result, err := h.Engine.RefreshAnalysis(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CleanAnalysisCache prunes expired analysis results.
func (h *Handler) CleanAnalysisCache(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.PruneAnalysis(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanCacheResponse{
		Success:      true,
		Message:      fmt.Sprintf("removed %d expired entries", res.Removed()),
		OriginalSize: res.OriginalSize,
		NewSize:      res.NewSize,
		Removed:      res.Removed(),
	})
}

// =============================================================================
// OVERVIEW HANDLERS
// =============================================================================

// GetOverviewStats returns the cached overview.
func (h *Handler) GetOverviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.GetOverviewStats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RefreshOverviewStats recomputes the overview.
func (h *Handler) RefreshOverviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.RefreshOverviewStats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetTopSalesProducts(w http.ResponseWriter, r *http.Request) {
	top, err := h.Engine.GetTopSalesProducts(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (h *Handler) GetMonthlyStockChange(w http.ResponseWriter, r *http.Request) {
	productModel := chi.URLParam(r, "productModel")
	change, err := h.Engine.GetMonthlyStockChange(r.Context(), productModel)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GetInvoiceGroups returns one page of a partner's invoice groups.
func (h *Handler) GetInvoiceGroups(side ledger.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit, err := parsePaging(r)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		result, err := h.Engine.GetInvoiceGroups(r.Context(), side, chi.URLParam(r, "partnerCode"), page, limit)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// RefreshInvoiceGroups regroups one partner's invoices.
func (h *Handler) RefreshInvoiceGroups(side ledger.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := h.Engine.RefreshInvoiceGroups(r.Context(), side, chi.URLParam(r, "partnerCode"))
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func filterFromQuery(r *http.Request) (ledger.Filter, error) {
	req := analysisRequestFromQuery(r)
	return ledger.ParseFilter(req.StartDate, req.EndDate, req.CustomerCode, req.ProductModel)
}

func analysisRequestFromQuery(r *http.Request) AnalysisRequest {
	q := r.URL.Query()
	return AnalysisRequest{
		StartDate:    q.Get("start_date"),
		EndDate:      q.Get("end_date"),
		CustomerCode: q.Get("customer_code"),
		ProductModel: q.Get("product_model"),
	}
}

// parsePaging reads page and limit; absent values take defaults.
func parsePaging(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	page, limit = 1, ledger.DefaultPageSize
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return 0, 0, &ledger.FilterError{Field: "page", Value: v, Reason: "expected a positive integer"}
		}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, &ledger.FilterError{Field: "limit", Value: v, Reason: "expected a positive integer"}
		}
	}
	return page, limit, nil
}

// writeEngineError maps engine errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if aborted, ok := ledger.IsRebuildAborted(err); ok {
		h.Logger.Error("stock ledger rebuild aborted",
			zap.String("path", r.URL.Path), zap.Int("processed", aborted.Processed),
			zap.Int("expected", aborted.Expected), zap.Error(aborted.Err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Stock ledger rebuild aborted, run it again",
			Code:  CodeRebuildAborted,
			Details: RebuildAbortedDetails{
				RecordsProcessed: aborted.Processed,
				Expected:         aborted.Expected,
				Cause:            aborted.Err.Error(),
			},
		})
		return
	}

	switch {
	case ledger.IsClientError(err):
		writeCodedError(w, http.StatusBadRequest, CodeValidation, "Invalid request", err)
	case ledger.IsNotFound(err):
		writeCodedError(w, http.StatusNotFound, CodeNotFound, "Not found", err)
	case generic.IsConflict(err):
		writeCodedError(w, http.StatusConflict, CodeJobRunning, "A rebuild is already running", err)
	case ledger.IsNotGenerated(err):
		writeCodedError(w, http.StatusServiceUnavailable, CodeNotGenerated, "Not generated yet, please refresh", err)
	default:
		h.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeCodedError(w, http.StatusInternalServerError, CodeInternal, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeCodedError(w, status, CodeValidation, message, err)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
