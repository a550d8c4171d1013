/*
processors.go - The job processors composing the pipeline components

Each processor receives the shared ProcContext (store registry, POS
client, Postgres, Redis, export dir) and a job payload, does its work,
and returns a structured result retained on the queue.

PER-STORE FAILURE POLICY:
  A store failing inside gl-export, inventory-sync, or hourly-sales does
  not abort the job: the remaining stores complete, the result lists
  failedStores, and the overall result is marked success=false. Job-level
  retries apply only to job-wide errors (e.g. no store registry at all).
*/
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pos-ledger/cache"
	"github.com/warp/pos-ledger/gl"
	"github.com/warp/pos-ledger/hourly"
	"github.com/warp/pos-ledger/localday"
	"github.com/warp/pos-ledger/pos"
	"github.com/warp/pos-ledger/registry"
)

// storeFetchLimit bounds how many stores a single job talks to the POS
// vendor about concurrently.
const storeFetchLimit = 4

// PosAPI is the vendor surface the processors need; *pos.Client
// implements it, tests substitute fakes.
type PosAPI interface {
	GetTransactions(ctx context.Context, apiKey string, from, to time.Time, q pos.TransactionQuery) ([]pos.Transaction, error)
	GetInventoryReport(ctx context.Context, apiKey string) ([]pos.InventoryItem, error)
	GetDiscounts(ctx context.Context, apiKey string) ([]pos.Discount, error)
}

// SyncStore is the Postgres surface of inventory-sync.
type SyncStore interface {
	UpsertInventory(ctx context.Context, locationID string, items []pos.InventoryItem) error
	UpsertDiscounts(ctx context.Context, locationID string, discounts []pos.Discount) error
}

// LocationRefresher rebuilds the Redis view for one location.
type LocationRefresher interface {
	RefreshLocation(ctx context.Context, locationID string) error
}

// OdooNotifier is the external ERP collaborator contract. The
// implementation lives outside this repository; a nil notifier makes
// odoo-sync a no-op.
type OdooNotifier interface {
	SyncLocations(ctx context.Context, locations []registry.Summary) error
}

// ProcContext is the shared context handed to every processor. It is
// supplied at init and replaced wholesale via Manager.UpdateContext,
// never mutated in place.
type ProcContext struct {
	Registry  *registry.Registry
	POS       PosAPI
	DB        SyncStore
	Cache     cache.Cache
	Refresher LocationRefresher
	Odoo      OdooNotifier
	ExportDir string

	// Now is the job clock; pinned in tests.
	Now func() time.Time
}

func (pc *ProcContext) now() time.Time {
	if pc.Now != nil {
		return pc.Now()
	}
	return time.Now()
}

// StoreFailure names one store that failed inside an otherwise
// successful job.
type StoreFailure struct {
	Store string `json:"store"`
	Error string `json:"error"`
}

// ExportResult is the gl-export job result.
type ExportResult struct {
	Success      bool           `json:"success"`
	Date         string         `json:"date"`
	Stores       int            `json:"stores"`
	TotalSales   string         `json:"totalSales"`
	Files        []string       `json:"files"`
	FailedStores []StoreFailure `json:"failedStores"`
}

// dateFromJob reads a "date" payload field, defaulting to fallback.
func dateFromJob(job *Job, key string, fallback localday.Date) (localday.Date, error) {
	if job.Data == nil {
		return fallback, nil
	}
	raw, ok := job.Data[key].(string)
	if !ok || raw == "" {
		return fallback, nil
	}
	return localday.ParseDate(raw)
}

// forEachStore fans out f across the registry's active stores with
// bounded concurrency, collecting per-store failures instead of
// aborting. Job-wide errors (empty registry) surface as errors.
func forEachStore(ctx context.Context, reg *registry.Registry, f func(ctx context.Context, s registry.Store) error) ([]StoreFailure, int, error) {
	stores := reg.Active()
	if len(stores) == 0 {
		return nil, 0, registry.ErrNoActiveStores
	}

	var mu sync.Mutex
	var failures []StoreFailure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(storeFetchLimit)
	for _, s := range stores {
		s := s
		g.Go(func() error {
			if err := f(gctx, s); err != nil {
				mu.Lock()
				failures = append(failures, StoreFailure{Store: s.Name, Error: err.Error()})
				mu.Unlock()
			}
			return nil // per-store failures never cancel the group
		})
	}
	g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Store < failures[j].Store })
	return failures, len(stores), nil
}

// GLExportProcessor produces the daily GL journal. Payload: {"date":
// "YYYY-MM-DD"}; default is yesterday (UTC).
func GLExportProcessor(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	date, err := dateFromJob(job, "date", localday.DateOf(pc.now().AddDate(0, 0, -1), time.UTC))
	if err != nil {
		return nil, err
	}
	job.ReportProgress(5)

	var mu sync.Mutex
	totalsByBranch := map[string]gl.StoreTotals{}

	failures, storeCount, err := forEachStore(ctx, pc.Registry, func(ctx context.Context, s registry.Store) error {
		loc, err := localday.LoadLocation(s.Timezone)
		if err != nil {
			return err
		}
		from, to := localday.ExtendedWindow(date)
		txns, err := pc.POS.GetTransactions(ctx, s.PosAPIKey, from, to, pos.TransactionQuery{
			IncludeDetail: true, IncludeTaxes: true,
		})
		if err != nil {
			return err
		}
		t := gl.Aggregate(s.BranchCode, s.Name, date, gl.FilterLocalDay(txns, date, loc))
		mu.Lock()
		totalsByBranch[s.BranchCode] = t
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	job.ReportProgress(70)

	// Deterministic output order regardless of fetch completion order.
	branches := make([]string, 0, len(totalsByBranch))
	for b := range totalsByBranch {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	totals := make([]gl.StoreTotals, 0, len(branches))
	totalSales := decimal.Zero
	for _, b := range branches {
		t := totalsByBranch[b]
		totals = append(totals, t)
		totalSales = totalSales.Add(t.GrossSales)
	}

	files, err := gl.WriteFiles(pc.ExportDir, date, totals, gl.RenderOptions{
		Source:      gl.SourcePOSAPI,
		GeneratedAt: pc.now(),
	})
	if err != nil {
		return nil, err
	}
	job.ReportProgress(95)

	res := ExportResult{
		Success:      len(failures) == 0,
		Date:         string(date),
		Stores:       storeCount,
		TotalSales:   gl.FormatMoney(totalSales),
		Files:        files,
		FailedStores: failures,
	}
	log.Printf("[Worker:%s] exported %s: %d stores, %d failed, total sales %s",
		job.Queue, date, storeCount, len(failures), res.TotalSales)
	return res, nil
}

// SyncResult is the inventory-sync / banner-sync / hourly-sales result.
type SyncResult struct {
	Success      bool           `json:"success"`
	Stores       int            `json:"stores"`
	Files        []string       `json:"files,omitempty"`
	FailedStores []StoreFailure `json:"failedStores,omitempty"`
}

// InventorySyncProcessor pulls inventory and discounts for every store,
// upserts them into Postgres, and rebuilds each location's Redis view.
func InventorySyncProcessor(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	job.ReportProgress(5)
	failures, storeCount, err := forEachStore(ctx, pc.Registry, func(ctx context.Context, s registry.Store) error {
		items, err := pc.POS.GetInventoryReport(ctx, s.PosAPIKey)
		if err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
		discounts, err := pc.POS.GetDiscounts(ctx, s.PosAPIKey)
		if err != nil {
			return fmt.Errorf("discounts: %w", err)
		}
		if err := pc.DB.UpsertInventory(ctx, s.ID, items); err != nil {
			return err
		}
		if err := pc.DB.UpsertDiscounts(ctx, s.ID, discounts); err != nil {
			return err
		}
		return pc.Refresher.RefreshLocation(ctx, s.ID)
	})
	if err != nil {
		return nil, err
	}
	return SyncResult{Success: len(failures) == 0, Stores: storeCount, FailedStores: failures}, nil
}

// HourlySalesProcessor builds the hourly rollup files. Payload keys
// "start" and "end"; defaults cover the trailing seven days ending today.
func HourlySalesProcessor(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	today := localday.DateOf(pc.now(), time.UTC)
	start, err := dateFromJob(job, "start", today.AddDays(-6))
	if err != nil {
		return nil, err
	}
	end, err := dateFromJob(job, "end", hourly.DefaultRangeEnd(start))
	if err != nil {
		return nil, err
	}
	job.ReportProgress(5)

	var mu sync.Mutex
	byBranch := map[string]hourly.StoreHourly{}

	failures, storeCount, err := forEachStore(ctx, pc.Registry, func(ctx context.Context, s registry.Store) error {
		loc, err := localday.LoadLocation(s.Timezone)
		if err != nil {
			return err
		}
		// Fetch one day past the range end for boundary transactions;
		// Aggregate re-checks membership.
		from, to := localday.RangeWindow(start, end.AddDays(1))
		txns, err := pc.POS.GetTransactions(ctx, s.PosAPIKey, from, to, pos.TransactionQuery{})
		if err != nil {
			return err
		}
		sh := hourly.Aggregate(s.BranchCode, s.Name, loc, start, end, txns)
		mu.Lock()
		byBranch[s.BranchCode] = sh
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	job.ReportProgress(70)

	branches := make([]string, 0, len(byBranch))
	for b := range byBranch {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	stores := make([]hourly.StoreHourly, 0, len(branches))
	for _, b := range branches {
		stores = append(stores, byBranch[b])
	}

	files, err := hourly.WriteFiles(pc.ExportDir, start, end, stores, pc.now())
	if err != nil {
		return nil, err
	}
	return SyncResult{Success: len(failures) == 0, Stores: storeCount, Files: files, FailedStores: failures}, nil
}

// BannerSyncProcessor refreshes the registry from its source and
// publishes the locations:all summary to Redis.
func BannerSyncProcessor(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	if err := pc.Registry.Load(ctx); err != nil {
		return nil, err
	}
	job.ReportProgress(50)

	summaries := pc.Registry.Summaries()
	payload, err := json.Marshal(summaries)
	if err != nil {
		return nil, err
	}
	if err := pc.Cache.Set(ctx, cache.KeyLocations, string(payload)); err != nil {
		return nil, err
	}
	return SyncResult{Success: true, Stores: len(summaries)}, nil
}

// OdooSyncProcessor fans the store list out to the external ERP. With no
// collaborator configured the job completes as a recorded skip.
func OdooSyncProcessor(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	if pc.Odoo == nil {
		return map[string]interface{}{"success": true, "skipped": true, "reason": "no ERP collaborator configured"}, nil
	}
	if err := pc.Odoo.SyncLocations(ctx, pc.Registry.Summaries()); err != nil {
		return nil, err
	}
	return SyncResult{Success: true, Stores: len(pc.Registry.Active())}, nil
}

// RegisterDefaults wires the production schedule table to its
// processors.
func RegisterDefaults(m *Manager) {
	procs := map[string]Processor{
		QueueInventorySync: InventorySyncProcessor,
		QueueGLExport:      GLExportProcessor,
		QueueBannerSync:    BannerSyncProcessor,
		QueueHourlySales:   HourlySalesProcessor,
		QueueOdooSync:      OdooSyncProcessor,
	}
	for _, cfg := range DefaultQueues() {
		m.Register(cfg, procs[cfg.Name])
	}
}
