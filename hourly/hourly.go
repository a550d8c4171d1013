/*
Package hourly buckets POS transactions into per-store hourly sales
grids over a date range: an aggregated 24-hour profile for the whole
range plus a detailed per-day grid.

A vendor quirk drives the time handling here: unlike the GL report path,
the transactions returned for hourly rollups carry transactionDate in
STORE-LOCAL wall-clock time. Buckets are labeled in UTC hours, so the
aggregator computes each store's UTC offset (DST-aware; Arizona is a
fixed -7) and maps local hour -> UTC hour with day overflow.
*/
package hourly

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-ledger/localday"
	"github.com/warp/pos-ledger/pos"
)

// Bucket accumulates one hour of sales for one store.
type Bucket struct {
	Sales        decimal.Decimal
	Discounts    decimal.Decimal
	Tax          decimal.Decimal
	Returns      decimal.Decimal
	Transactions int
}

// NetSales is gross sales net of discounts and returns.
func (b Bucket) NetSales() decimal.Decimal {
	return b.Sales.Sub(b.Discounts).Sub(b.Returns)
}

// Grid is a day's 24 UTC-hour buckets.
type Grid [24]Bucket

// StoreHourly is one store's hourly rollup over a reporting range.
type StoreHourly struct {
	Branch    string
	StoreName string

	// Profile aggregates every reporting day into one 24-bucket shape.
	Profile Grid
	// Days holds the detailed per-reporting-day grids.
	Days map[localday.Date]*Grid
}

// DefaultRangeEnd applies the range default: end = start + 6 days.
func DefaultRangeEnd(start localday.Date) localday.Date {
	return start.AddDays(6)
}

// localClock extracts the store-local (date, hour) of a transaction.
// The tz-naive local string wins when present; otherwise the
// transactionDate wall clock is read as-is, local per the vendor quirk.
func localClock(txn pos.Transaction) (localday.Date, int, bool) {
	if s := txn.TransactionDateLocalTime; len(s) >= 13 {
		h, err := strconv.Atoi(s[11:13])
		if err == nil && h >= 0 && h < 24 {
			return localday.Date(s[:10]), h, true
		}
	}
	if txn.TransactionDate.IsZero() {
		return "", 0, false
	}
	wall := txn.TransactionDate
	return localday.Date(wall.Format("2006-01-02")), wall.Hour(), true
}

// Aggregate builds one store's hourly rollup for reporting days
// [start, end]. Callers fetch one day past end to capture boundary
// transactions; membership is re-checked here so the extra day never
// leaks into the grids.
func Aggregate(branch, storeName string, loc *time.Location, start, end localday.Date, txns []pos.Transaction) StoreHourly {
	sh := StoreHourly{
		Branch:    branch,
		StoreName: storeName,
		Days:      make(map[localday.Date]*Grid),
	}

	for _, txn := range txns {
		if txn.IsVoid || txn.TransactionType != pos.TypeRetail {
			continue
		}
		day, hour, ok := localClock(txn)
		if !ok || day.Before(start) || day.After(end) {
			continue
		}

		offset := localday.UTCOffsetHours(loc, day.Time().Add(12*time.Hour))
		_, utcHour := localday.LocalHourToUTC(day, hour, offset)

		grid := sh.Days[day]
		if grid == nil {
			grid = &Grid{}
			sh.Days[day] = grid
		}

		for _, b := range []*Bucket{&grid[utcHour], &sh.Profile[utcHour]} {
			b.Transactions++
			if txn.IsReturn {
				b.Returns = b.Returns.Add(txn.Total)
				continue
			}
			b.Sales = b.Sales.Add(txn.Subtotal)
			b.Discounts = b.Discounts.Add(txn.TotalDiscount)
			b.Tax = b.Tax.Add(txn.Tax)
		}
	}
	return sh
}
