/*
rebuild.go - Stock reconstruction, replay path

PURPOSE:
  Rebuilds the stock ledger table by replaying every inbound and
  outbound line in chronological order and recording the running
  balance of the affected product after each step.

ALGORITHM:
  1. Clear the stock ledger table
  2. Load all inbound lines (+quantity) and outbound lines (-quantity)
  3. Stable sort the merged list by (date, id); same-day lines replay
     in insertion order, inbound before outbound on an exact tie
  4. Walk the list keeping a running balance per product, writing one
     row per step and reporting progress

FAILURE POLICY:
  The first write error aborts the replay. Rows already written stay;
  there is no rollback. The returned RebuildAbortedError carries the
  processed and expected counts so the caller can detect the short run
  and trigger it again.

INVARIANT:
  For every product, the final replay balance equals
  StockEngine.Aggregate's CurrentQuantity.

SEE ALSO:
  - stock.go: Aggregate path
  - generic/job.go: Single-slot runner and progress
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
)

// RebuildResult reports a completed replay.
type RebuildResult struct {
	JobID            string                     `json:"job_id"`
	RecordsProcessed int                        `json:"records_processed"`
	Expected         int                        `json:"expected"`
	Balances         map[string]decimal.Decimal `json:"balances"`
}

// Replayer performs the chronological rebuild.
type Replayer struct {
	query  Query
	writer StockLedgerWriter
	logger *zap.Logger
}

func NewReplayer(q Query, w StockLedgerWriter, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{query: q, writer: w, logger: logger}
}

// Steps loads both ledger tables and returns them merged in replay order.
func (r *Replayer) Steps(ctx context.Context) ([]Entry, error) {
	in, err := r.query.ListEntries(ctx, Inbound, EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("load inbound: %w", err)
	}
	out, err := r.query.ListEntries(ctx, Outbound, EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("load outbound: %w", err)
	}

	steps := make([]Entry, 0, len(in)+len(out))
	steps = append(steps, in...)
	steps = append(steps, out...)
	sortReplay(steps)
	return steps, nil
}

func sortReplay(steps []Entry) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
}

// Replay runs the rebuild, reporting through p. p may be nil.
func (r *Replayer) Replay(ctx context.Context, p *generic.Progress) (RebuildResult, error) {
	if err := r.writer.ClearStockLedger(ctx); err != nil {
		return RebuildResult{}, fmt.Errorf("clear stock ledger: %w", err)
	}

	steps, err := r.Steps(ctx)
	if err != nil {
		return RebuildResult{}, err
	}

	res := RebuildResult{
		Expected: len(steps),
		Balances: make(map[string]decimal.Decimal),
	}
	if p != nil {
		res.JobID = p.ID()
		p.SetTotal(len(steps))
	}

	for i, e := range steps {
		balance := res.Balances[e.ProductModel].Add(e.Delta())
		res.Balances[e.ProductModel] = balance

		row := StockLedgerRow{
			RecordID:     e.ID,
			Direction:    e.Direction,
			ProductModel: e.ProductModel,
			Delta:        e.Delta(),
			Balance:      balance,
			Date:         e.Date,
		}
		if err := r.writer.WriteStockLedger(ctx, row); err != nil {
			res.RecordsProcessed = i
			return res, &RebuildAbortedError{Processed: i, Expected: len(steps), Err: err}
		}
		res.RecordsProcessed = i + 1
		if p != nil {
			p.SetCurrent(i + 1)
		}
	}

	r.logger.Info("stock ledger replayed",
		zap.Int("records", res.RecordsProcessed), zap.Int("products", len(res.Balances)))
	return res, nil
}
