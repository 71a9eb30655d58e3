/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON envelopes the route layer adds around engine results.
  Engine types (StockPage, CostAnalysisResult, OverviewStats, ...) carry
  their own JSON tags and are returned as-is where no envelope is needed.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Validation is done by ledger.ParseFilter and the handlers, not here.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Engine result types
*/
package api

import (
	"time"
)

// AnalysisRequest is the body of POST /api/analysis/refresh. The same
// fields are accepted as query parameters on the GET routes.
type AnalysisRequest struct {
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	CustomerCode string `json:"customer_code"`
	ProductModel string `json:"product_model"`
}

// StockRefreshResponse reports a forced stock recompute.
type StockRefreshResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	ProductsCount int       `json:"products_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// RebuildResponse reports a completed stock ledger rebuild.
type RebuildResponse struct {
	Success          bool   `json:"success"`
	JobID            string `json:"job_id"`
	RecordsProcessed int    `json:"records_processed"`
	Expected         int    `json:"expected"`
	Products         int    `json:"products"`
}

// RebuildAbortedDetails is the error detail of a short rebuild.
type RebuildAbortedDetails struct {
	RecordsProcessed int    `json:"records_processed"`
	Expected         int    `json:"expected"`
	Cause            string `json:"cause"`
}

// CleanCacheResponse reports an analysis cache prune.
type CleanCacheResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	OriginalSize int    `json:"original_size"`
	NewSize      int    `json:"new_size"`
	Removed      int    `json:"removed"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeJobRunning     = "job_running"
	CodeNotGenerated   = "not_generated"
	CodeRebuildAborted = "rebuild_aborted"
	CodeInternal       = "internal_error"
)
