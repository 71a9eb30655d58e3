/*
engine.go - Inventory ledger and cost engine facade

PURPOSE:
  Wires the stock engine, replayer, cost calculator, overview builder
  and invoice grouper to four instances of the generic aggregate cache,
  and exposes the operations the route layer calls.

CACHE INSTANCES:
  Name       Staleness     Granularity       Miss
  stock      NoTTL         whole collection  recompute
  overview   NoTTL         whole collection  recompute
  analysis   TTL(30 days)  per filter key    ErrNotGenerated
  invoices   NoTTL         per partner       recompute

  Stock is also served under the "inventory" routes; both names share
  the one stock instance.

REBUILD:
  RebuildStockLedger runs under a single-slot job. A second start while
  one is running fails with generic.ErrJobRunning. RebuildProgress can
  be polled at any time.

SEE ALSO:
  - generic/cache.go: Cache manager
  - generic/job.go: Job runner
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
)

// DefaultAnalysisTTL is the analysis cache staleness window.
const DefaultAnalysisTTL = 30 * 24 * time.Hour

// Cache store keys.
const (
	StockCacheKey    = "stock-cache"
	OverviewCacheKey = "overview-stats"
	AnalysisCacheKey = "analysis-cache"
	InvoiceCacheKey  = "invoice-cache"
)

// Config holds the engine's collaborators.
type Config struct {
	Query    Query             // required
	Registry Registry          // required
	Writer   StockLedgerWriter // required for rebuilds
	Cache    generic.KVStore   // required
	Locker   generic.Locker    // rebuild slot; defaults to in-process

	AnalysisTTL      time.Duration
	OverviewLookback int
	TopProducts      int

	Clock         generic.Clock
	Logger        *zap.Logger
	CacheObserver generic.CacheObserver
	JobObserver   generic.JobObserver
}

// Engine is the engine facade.
type Engine struct {
	stockEngine *StockEngine
	replayer    *Replayer
	calc        *CostCalculator
	overviewB   *OverviewBuilder
	grouper     *InvoiceGrouper

	stock    *generic.Cache[StockSummary]
	overview *generic.Cache[OverviewStats]
	analysis *generic.Cache[CostAnalysisResult]
	invoices *generic.Cache[[]InvoiceGroup]
	rebuild  *generic.Job
}

// NewEngine wires the engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = generic.SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AnalysisTTL <= 0 {
		cfg.AnalysisTTL = DefaultAnalysisTTL
	}

	e := &Engine{
		stockEngine: NewStockEngine(cfg.Query),
		replayer:    NewReplayer(cfg.Query, cfg.Writer, cfg.Logger),
		calc:        NewCostCalculator(cfg.Query, cfg.Registry),
		overviewB: NewOverviewBuilder(cfg.Query, cfg.Registry, OverviewConfig{
			LookbackDays: cfg.OverviewLookback,
			TopProducts:  cfg.TopProducts,
			Clock:        cfg.Clock,
		}),
		grouper: NewInvoiceGrouper(cfg.Query),
	}

	e.stock = generic.NewCache(generic.CacheConfig[StockSummary]{
		Name:        "stock",
		StoreKey:    StockCacheKey,
		Staleness:   generic.NoTTL(),
		Granularity: generic.WholeCollection,
		Recompute: func(ctx context.Context, _ string) (StockSummary, error) {
			return e.stockEngine.Summary(ctx)
		},
		Store:    cfg.Cache,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Observer: cfg.CacheObserver,
	})
	e.overview = generic.NewCache(generic.CacheConfig[OverviewStats]{
		Name:        "overview",
		StoreKey:    OverviewCacheKey,
		Staleness:   generic.NoTTL(),
		Granularity: generic.WholeCollection,
		Recompute: func(ctx context.Context, _ string) (OverviewStats, error) {
			return e.overviewB.Build(ctx)
		},
		Store:    cfg.Cache,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Observer: cfg.CacheObserver,
	})
	e.analysis = generic.NewCache(generic.CacheConfig[CostAnalysisResult]{
		Name:        "analysis",
		StoreKey:    AnalysisCacheKey,
		Staleness:   generic.TTL(cfg.AnalysisTTL),
		Granularity: generic.PerKey,
		Store:       cfg.Cache,
		Clock:       cfg.Clock,
		Logger:      cfg.Logger,
		Observer:    cfg.CacheObserver,
	})
	e.invoices = generic.NewCache(generic.CacheConfig[[]InvoiceGroup]{
		Name:        "invoices",
		StoreKey:    InvoiceCacheKey,
		Staleness:   generic.NoTTL(),
		Granularity: generic.PerKey,
		Recompute: func(ctx context.Context, key string) ([]InvoiceGroup, error) {
			side, code, err := splitSideKey(key)
			if err != nil {
				return nil, err
			}
			return e.grouper.Group(ctx, side, code)
		},
		Store:    cfg.Cache,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Observer: cfg.CacheObserver,
	})
	e.rebuild = generic.NewJob(generic.JobConfig{
		Name:     "stock-rebuild",
		Locker:   cfg.Locker,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Observer: cfg.JobObserver,
	})
	return e
}

// =============================================================================
// STOCK
// =============================================================================

// GetStock serves one page of the stock listing from the stock cache.
func (e *Engine) GetStock(ctx context.Context, q StockQuery) (StockPage, error) {
	entry, err := e.stock.Get(ctx, "")
	if err != nil {
		return StockPage{}, err
	}
	items, page := entry.Value.List(q)
	return StockPage{Items: items, Pagination: page, LastUpdated: entry.LastUpdated}, nil
}

// StockRefreshResult reports a forced stock recompute.
type StockRefreshResult struct {
	ProductsCount int       `json:"products_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// RefreshStock recomputes the aggregate and rewrites the stock cache.
func (e *Engine) RefreshStock(ctx context.Context) (StockRefreshResult, error) {
	entry, err := e.stock.Refresh(ctx, "")
	if err != nil {
		return StockRefreshResult{}, err
	}
	return StockRefreshResult{
		ProductsCount: len(entry.Value.Products),
		LastUpdated:   entry.LastUpdated,
	}, nil
}

// CostEstimate is the stock cache's total cost estimate.
type CostEstimate struct {
	TotalCostEstimate string    `json:"total_cost_estimate"`
	LastUpdated       time.Time `json:"last_updated"`
}

// StockCostEstimate reads the estimate from the stock cache.
func (e *Engine) StockCostEstimate(ctx context.Context) (CostEstimate, error) {
	entry, err := e.stock.Get(ctx, "")
	if err != nil {
		return CostEstimate{}, err
	}
	return CostEstimate{
		TotalCostEstimate: entry.Value.TotalCostEstimate.StringFixed(generic.MoneyPlaces),
		LastUpdated:       entry.LastUpdated,
	}, nil
}

// AggregateStock bypasses the cache and derives stock from the ledger.
func (e *Engine) AggregateStock(ctx context.Context) (map[string]StockSnapshot, error) {
	return e.stockEngine.Aggregate(ctx)
}

// =============================================================================
// REBUILD
// =============================================================================

// RebuildStockLedger replays the ledger into the stock ledger table.
// A *RebuildAbortedError reports a short run; generic.ErrJobRunning
// reports a rejected concurrent start.
func (e *Engine) RebuildStockLedger(ctx context.Context) (RebuildResult, error) {
	var res RebuildResult
	_, err := e.rebuild.Run(ctx, func(ctx context.Context, p *generic.Progress) error {
		var err error
		res, err = e.replayer.Replay(ctx, p)
		return err
	})
	return res, err
}

// RebuildProgress returns the current or last rebuild's status.
func (e *Engine) RebuildProgress() generic.JobStatus {
	return e.rebuild.Status()
}

// =============================================================================
// ANALYSIS
// =============================================================================

// GetAnalysis returns the cached result for f, or an error matching
// generic.ErrNotGenerated when it has not been refreshed within the TTL.
func (e *Engine) GetAnalysis(ctx context.Context, f Filter) (CostAnalysisResult, error) {
	entry, err := e.analysis.Get(ctx, f.Key())
	if err != nil {
		return CostAnalysisResult{}, err
	}
	return withUpdated(entry), nil
}

// GetAnalysisDetail returns the detail breakdown for f, empty when the
// result is absent.
func (e *Engine) GetAnalysisDetail(ctx context.Context, f Filter) ([]DetailItem, error) {
	entry, ok, err := e.analysis.Peek(ctx, f.Key())
	if err != nil {
		return nil, err
	}
	if !ok || entry.Value.Details == nil {
		return []DetailItem{}, nil
	}
	return entry.Value.Details, nil
}

// RefreshAnalysis computes f and upserts it into the analysis cache.
func (e *Engine) RefreshAnalysis(ctx context.Context, f Filter) (CostAnalysisResult, error) {
	entry, err := e.analysis.RefreshWith(ctx, f.Key(), func(ctx context.Context, _ string) (CostAnalysisResult, error) {
		return e.calc.Compute(ctx, f)
	})
	if err != nil {
		return CostAnalysisResult{}, err
	}
	return withUpdated(entry), nil
}

// PruneAnalysis drops expired analysis entries and reports sizes.
func (e *Engine) PruneAnalysis(ctx context.Context) (generic.PruneResult, error) {
	return e.analysis.Prune(ctx)
}

// ComputeCost runs the calculator without touching the cache.
func (e *Engine) ComputeCost(ctx context.Context, f Filter) (CostAnalysisResult, error) {
	return e.calc.Compute(ctx, f)
}

func withUpdated(entry generic.Entry[CostAnalysisResult]) CostAnalysisResult {
	res := entry.Value
	res.LastUpdated = entry.LastUpdated
	if res.Details == nil {
		res.Details = []DetailItem{}
	}
	return res
}

// =============================================================================
// OVERVIEW
// =============================================================================

// GetOverviewStats serves the overview cache, computing it on first use.
func (e *Engine) GetOverviewStats(ctx context.Context) (OverviewStats, error) {
	entry, err := e.overview.Get(ctx, "")
	if err != nil {
		return OverviewStats{}, err
	}
	return entry.Value, nil
}

// RefreshOverviewStats recomputes every overview section.
func (e *Engine) RefreshOverviewStats(ctx context.Context) (OverviewStats, error) {
	entry, err := e.overview.Refresh(ctx, "")
	if err != nil {
		return OverviewStats{}, err
	}
	return entry.Value, nil
}

// GetTopSalesProducts reads the top-sales section.
func (e *Engine) GetTopSalesProducts(ctx context.Context) ([]ProductSales, error) {
	stats, err := e.GetOverviewStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.TopSalesProducts == nil {
		return []ProductSales{}, nil
	}
	return stats.TopSalesProducts, nil
}

// GetMonthlyStockChange reads one product's monthly movement.
func (e *Engine) GetMonthlyStockChange(ctx context.Context, productModel string) (MonthlyStockChange, error) {
	stats, err := e.GetOverviewStats(ctx)
	if err != nil {
		return MonthlyStockChange{}, err
	}
	change, ok := stats.MonthlyStockChanges[productModel]
	if !ok {
		return MonthlyStockChange{}, ErrProductNotFound
	}
	return change, nil
}

// =============================================================================
// INVOICES
// =============================================================================

// GetInvoiceGroups serves one page of a partner's invoice groups,
// computing that partner's sub-collection on first use.
func (e *Engine) GetInvoiceGroups(ctx context.Context, side Side, partnerCode string, page, pageSize int) (InvoicePage, error) {
	if partnerCode == "" {
		return InvoicePage{}, &FilterError{Field: "partner_code", Reason: "required"}
	}
	entry, err := e.invoices.Get(ctx, side.cacheKey(partnerCode))
	if err != nil {
		return InvoicePage{}, err
	}
	items, p := paginate(entry.Value, page, pageSize)
	return InvoicePage{Items: items, Pagination: p, LastUpdated: entry.LastUpdated}, nil
}

// RefreshInvoiceGroups regroups one partner, leaving all others as they are.
func (e *Engine) RefreshInvoiceGroups(ctx context.Context, side Side, partnerCode string) ([]InvoiceGroup, error) {
	if partnerCode == "" {
		return nil, &FilterError{Field: "partner_code", Reason: "required"}
	}
	entry, err := e.invoices.Refresh(ctx, side.cacheKey(partnerCode))
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// IsRebuildAborted unpacks a short rebuild.
func IsRebuildAborted(err error) (*RebuildAbortedError, bool) {
	var aborted *RebuildAbortedError
	if errors.As(err, &aborted) {
		return aborted, true
	}
	return nil, false
}
