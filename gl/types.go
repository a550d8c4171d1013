/*
Package gl is the Sales-to-GL core: a deterministic, timezone-correct,
double-entry balanced transformation from POS transactions (or tabular
exports of the same data) into General Ledger journal rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - StoreTotals: the per-store, per-day accumulator every input path
    converges on before rendering
  - Account / chart: the fixed 10-account journal layout
  - FormatMoney: en-US money rendering (thousands separator, 2 decimals)

DESIGN PRINCIPLES:
  1. Determinism: aggregation is a pure fold; same inputs, byte-identical
     rendered files
  2. Precision: decimal.Decimal everywhere, rounding only at the output edge
  3. One renderer: historical exporter variants collapse into input parsers
     that all produce StoreTotals

SEE ALSO:
  - aggregate.go: POS-transaction aggregation (the authoritative path)
  - tabular.go: CSV/JSON tabular ingestion (the alternate path)
  - render.go: journal rendering to TSV/CSV
*/
package gl

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StoreTotals holds one store's aggregated figures for a single report
// date. All values retain full decimal precision; rounding happens only
// in the renderer.
type StoreTotals struct {
	Branch    string
	StoreName string

	GrossSales        decimal.Decimal
	Discounts         decimal.Decimal
	LoyaltySpent      decimal.Decimal
	Returns           decimal.Decimal
	Tax               decimal.Decimal
	CashPaid          decimal.Decimal
	ChangeDue         decimal.Decimal
	CashOnlyChangeDue decimal.Decimal
	NetCash           decimal.Decimal
	DebitPaid         decimal.Decimal
	COGS              decimal.Decimal
	Overage           decimal.Decimal

	TransactionCount int
}

// Side is which journal column an account normally posts to.
type Side int

const (
	SideDebit Side = iota
	SideCredit
	// SideBalance marks the overage plug; its column depends on the
	// configured rendering variant and the sign of the amount.
	SideBalance
)

// Account is one row of the fixed journal layout.
type Account struct {
	Code   string
	Desc   string
	Side   Side
	Amount func(StoreTotals) decimal.Decimal
}

// chart is the authoritative 10-account journal, in rendering order.
// Returns is structurally always zero (returns are backdated onto the
// original sale) but the account row is still rendered so the journal
// shape never varies.
var chart = [10]Account{
	{"40001", "Sales Income - Retail Sales", SideCredit, func(t StoreTotals) decimal.Decimal { return t.GrossSales }},
	{"40002", "Retail Income: Discounts and Coupons", SideDebit, func(t StoreTotals) decimal.Decimal { return t.Discounts }},
	{"40003", "Retail Income: Sales Return", SideDebit, func(t StoreTotals) decimal.Decimal { return t.Returns }},
	{"40004", "Loyalty Discounts", SideDebit, func(t StoreTotals) decimal.Decimal { return t.LoyaltySpent }},
	{"23500", "Taxes Payable - Sales & Use", SideCredit, func(t StoreTotals) decimal.Decimal { return t.Tax }},
	{"10000", "Cash on Hand", SideDebit, func(t StoreTotals) decimal.Decimal { return t.NetCash }},
	{"11010", "Debit Card Receivable", SideDebit, func(t StoreTotals) decimal.Decimal { return t.DebitPaid }},
	{"70260", "Overage/Shortage - Cash Ledger Adj", SideBalance, func(t StoreTotals) decimal.Decimal { return t.Overage }},
	{"50000", "Retail COG - Consumable Products for Resale", SideDebit, func(t StoreTotals) decimal.Decimal { return t.COGS }},
	{"12250", "Inventory - Finished Goods", SideCredit, func(t StoreTotals) decimal.Decimal { return t.COGS }},
}

// subaccountFor returns the accounting subaccount for a GL code: revenue
// and expense accounts (4xxxx, 5xxxx, 7xxxx) post to "20-00", balance
// sheet accounts to "00-00".
func subaccountFor(code string) string {
	switch {
	case strings.HasPrefix(code, "4"), strings.HasPrefix(code, "5"), strings.HasPrefix(code, "7"):
		return "20-00"
	default:
		return "00-00"
	}
}

// FormatMoney renders d with two decimals and en-US thousands separators:
// 1234567.8 -> "1,234,567.80", -950 -> "-950.00".
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteString(frac)
	return b.String()
}
