/*
aggregate.go - Per-store single-day GL aggregation

PURPOSE:
  Folds a fetched transaction list into one StoreTotals for a report date.
  Pure in-memory computation: no I/O, no clock reads, deterministic.

INVARIANTS ENFORCED HERE:
  - Local-day attribution: a transaction counts toward date D iff its
    store-local date equals D (callers fetch a padded UTC window).
  - Void and non-retail transactions contribute nothing.
  - Return backdating: returned items with returnDate <= D are excluded
    from gross sales, discounts, and COGS; when every item on a sale is
    so excluded, its cash and debit legs drop too. Future-dated returns
    (returnDate > D) are kept, which is what makes re-runs idempotent.
  - COGS = sum(unitCost * quantity) over non-excluded items, selling
    price notwithstanding; zero-price giveaway items still carry cost.

THE OVERAGE PLUG:
  overage = (grossSales + tax + cogs) - (discounts + returns + loyalty
            + netCash + debitPaid + cogs)
  In a perfectly reconciled store this is zero; the renderer posts it to
  70260 so the journal always balances.

SEE ALSO:
  - loyalty.go: region-aware loyalty/discount split
  - render.go: StoreTotals -> journal rows
*/
package gl

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-ledger/localday"
	"github.com/warp/pos-ledger/pos"
)

// FilterLocalDay keeps the transactions whose store-local date equals
// date. This is the precise filter applied after a padded-window fetch;
// it, not the aggregator, owns local-day attribution, so that for any
// two distinct dates the assigned transaction sets are disjoint.
func FilterLocalDay(txns []pos.Transaction, date localday.Date, loc *time.Location) []pos.Transaction {
	var out []pos.Transaction
	for _, txn := range txns {
		if localday.LocalDate(txn.TransactionDateLocalTime, txn.TransactionDate, loc) == date {
			out = append(out, txn)
		}
	}
	return out
}

// itemExcluded reports whether an item is excluded from date d's books:
// it was returned, and the return was already known on d.
func itemExcluded(it pos.Item, d localday.Date) bool {
	if !it.IsReturned || len(it.ReturnDate) < 10 {
		return false
	}
	return localday.Date(it.ReturnDate[:10]) <= d
}

// Aggregate folds transactions (already filtered to one local day) into
// the store's totals for report date d. The date parameter drives only
// the return-exclusion predicate: a re-run for an old date after a later
// return reproduces the old books byte for byte.
func Aggregate(branch, storeName string, date localday.Date, txns []pos.Transaction) StoreTotals {
	t := StoreTotals{Branch: branch, StoreName: storeName}

	for _, txn := range txns {
		if txn.IsVoid || txn.TransactionType != pos.TypeRetail {
			continue
		}
		// Full-return transactions carry no new revenue; their effect is
		// applied via item-level isReturned flags on the original sale.
		if txn.IsReturn {
			continue
		}

		t.TransactionCount++

		var discountTotal decimal.Decimal
		allItemsReturned := false

		if len(txn.Items) > 0 && !txn.Subtotal.IsZero() {
			allItemsReturned = true
			for _, it := range txn.Items {
				if itemExcluded(it, date) {
					continue
				}
				allItemsReturned = false
				t.GrossSales = t.GrossSales.Add(it.TotalPrice)
				t.COGS = t.COGS.Add(it.UnitCost.Mul(it.Quantity))
				discountTotal = discountTotal.Add(it.TotalDiscount)
			}
		} else {
			// Itemless or zero-subtotal records are inventory adjustments
			// masquerading as sales; take the header figures and skip COGS.
			t.GrossSales = t.GrossSales.Add(txn.Subtotal)
			discountTotal = txn.TotalDiscount
		}

		loyalty, discount := resolveLoyalty(txn, discountTotal)
		t.LoyaltySpent = t.LoyaltySpent.Add(loyalty)
		t.Discounts = t.Discounts.Add(discount)

		t.Tax = t.Tax.Add(txn.Tax)

		if !allItemsReturned {
			t.CashPaid = t.CashPaid.Add(txn.CashPaid)
			t.ChangeDue = t.ChangeDue.Add(txn.ChangeDue)
			if txn.DebitPaid.IsZero() && txn.ElectronicPaid.IsZero() {
				// Pure-cash sale: change came out of the drawer.
				t.CashOnlyChangeDue = t.CashOnlyChangeDue.Add(txn.ChangeDue)
			}

			t.DebitPaid = t.DebitPaid.Add(txn.DebitPaid)
			t.DebitPaid = t.DebitPaid.Add(txn.ElectronicPaid)
			t.DebitPaid = t.DebitPaid.Add(txn.PrePaymentAmount)

			// Sales with no recorded payment channel at all: impute the
			// amount due onto the debit receivable so revenue and tender
			// reconcile.
			if txn.CashPaid.IsZero() && txn.DebitPaid.IsZero() &&
				txn.ElectronicPaid.IsZero() && txn.PrePaymentAmount.IsZero() {
				due := txn.Subtotal.Add(txn.Tax).Sub(txn.TotalDiscount).Sub(loyalty)
				if due.IsPositive() {
					t.DebitPaid = t.DebitPaid.Add(due)
				}
			}
		}
	}

	t.NetCash = t.CashPaid.Sub(t.CashOnlyChangeDue)

	credits := t.GrossSales.Add(t.Tax).Add(t.COGS)
	debits := t.Discounts.Add(t.Returns).Add(t.LoyaltySpent).
		Add(t.NetCash).Add(t.DebitPaid).Add(t.COGS)
	t.Overage = credits.Sub(debits)

	return t
}
