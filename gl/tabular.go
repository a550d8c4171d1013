/*
tabular.go - CSV/JSON tabular ingestion (alternate path, same renderer)

PURPOSE:
  Accountants sometimes hand the service dashboard exports instead of
  letting it pull the POS API: a CSV attachment, a JSON body on the POST
  endpoint, or an uploaded file. Each row is a transaction-level
  aggregate. This file recognizes both the short and the long ("Looker
  style") column headings, parses currency strings, maps dashboard
  location names to registry stores, and rolls rows up per store.

ROLLUP RULE (simpler than the POS path; these exports are pre-digested):
  discounts = sum(Amount)              debitPaid = sum(Debit) + sum(Electronic)
  netCash   = sum(Cash)                cogs      = sum(Total Cost)
  overage   reconciles tender against (totalPrice + tax), sign-normalized
            to the journal's credits-minus-debits convention
*/
package gl

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-ledger/localday"
)

// TabularRecord is one parsed row of a tabular export.
type TabularRecord struct {
	Date     localday.Date
	Location string

	TotalPrice decimal.Decimal
	Discount   decimal.Decimal
	Loyalty    decimal.Decimal
	Tax        decimal.Decimal
	Debit      decimal.Decimal
	Cash       decimal.Decimal
	Electronic decimal.Decimal
	TotalCost  decimal.Decimal
}

// columnSpec maps one logical field to its accepted heading variants.
// Recognition is exact (after trimming) and case-insensitive.
type columnSpec struct {
	logical string
	names   []string
}

var tabularColumns = []columnSpec{
	{"date", []string{"Transaction Date", "Transactions Transaction Date"}},
	{"location", []string{"Location Name", "Lsp Location Location Name"}},
	{"totalPrice", []string{"Total Price", "Transaction Items Total Price"}},
	{"discount", []string{"Amount", "Transaction Item Discounts Amount"}},
	{"loyalty", []string{"Sum Total Loyalty Paid", "Transactions Sum Total Loyalty Paid"}},
	{"tax", []string{"Total Tax", "Transactions Total Tax"}},
	{"debit", []string{"Debit Paid", "Transactions Debit Paid"}},
	{"cash", []string{"Cash Paid", "Transactions Cash Paid"}},
	{"electronic", []string{"Electronic Paid", "Transactions Electronic Paid"}},
	{"totalCost", []string{"Total Cost", "Transaction Items Total Cost"}},
}

// resolveColumns maps logical names to header indices. Missing monetary
// columns are tolerated (zero-filled); date and location are required.
func resolveColumns(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idx := make(map[string]int)
	for _, spec := range tabularColumns {
		for _, name := range spec.names {
			if i, ok := byName[strings.ToLower(name)]; ok {
				idx[spec.logical] = i
				break
			}
		}
	}
	if _, ok := idx["date"]; !ok {
		return nil, fmt.Errorf("gl: tabular input missing a transaction date column")
	}
	if _, ok := idx["location"]; !ok {
		return nil, fmt.Errorf("gl: tabular input missing a location name column")
	}
	return idx, nil
}

// ParseCurrency accepts "$1,234.56", "1234.56", "($45.00)" and bare
// numbers. Empty strings parse as zero.
func ParseCurrency(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gl: bad currency value %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ParseTabularCSV reads a dashboard CSV export into records.
func ParseTabularCSV(r io.Reader) ([]TabularRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("gl: reading CSV header: %w", err)
	}
	idx, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var records []TabularRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gl: CSV line %d: %w", line, err)
		}
		rec, err := recordFromRow(func(logical string) string {
			i, ok := idx[logical]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		})
		if err != nil {
			return nil, fmt.Errorf("gl: CSV line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// jsonEnvelope is the optional wrapper on the POST ingestion body.
type jsonEnvelope struct {
	Date string            `json:"date"`
	Data []json.RawMessage `json:"data"`
}

// ParseTabularJSON accepts either a bare array of row objects or a
// {date, data} envelope. Row object keys follow the same column-name
// fallbacks as CSV headers; values may be strings or numbers. The
// returned date is the envelope's, "" for bare arrays.
func ParseTabularJSON(body []byte) (localday.Date, []TabularRecord, error) {
	var raws []json.RawMessage
	var envDate localday.Date

	if err := json.Unmarshal(body, &raws); err != nil {
		var env jsonEnvelope
		if err2 := json.Unmarshal(body, &env); err2 != nil {
			return "", nil, fmt.Errorf("gl: body is neither a JSON array nor an envelope: %w", err2)
		}
		raws = env.Data
		if env.Date != "" {
			d, err := localday.ParseDate(env.Date)
			if err != nil {
				return "", nil, err
			}
			envDate = d
		}
	}

	records := make([]TabularRecord, 0, len(raws))
	for i, raw := range raws {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", nil, fmt.Errorf("gl: JSON row %d: %w", i, err)
		}
		lowered := make(map[string]json.RawMessage, len(obj))
		for k, v := range obj {
			lowered[strings.ToLower(strings.TrimSpace(k))] = v
		}
		rec, err := recordFromRow(func(logical string) string {
			for _, spec := range tabularColumns {
				if spec.logical != logical {
					continue
				}
				for _, name := range spec.names {
					if v, ok := lowered[strings.ToLower(name)]; ok {
						return jsonScalar(v)
					}
				}
			}
			return ""
		})
		if err != nil {
			return "", nil, fmt.Errorf("gl: JSON row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return envDate, records, nil
}

// jsonScalar renders a raw JSON value (string or number) as its text form.
func jsonScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func recordFromRow(get func(logical string) string) (TabularRecord, error) {
	var rec TabularRecord

	rawDate := get("date")
	if len(rawDate) >= 10 {
		d, err := localday.ParseDate(rawDate[:10])
		if err != nil {
			return rec, err
		}
		rec.Date = d
	}
	rec.Location = strings.TrimSpace(get("location"))

	for _, f := range []struct {
		logical string
		dst     *decimal.Decimal
	}{
		{"totalPrice", &rec.TotalPrice},
		{"discount", &rec.Discount},
		{"loyalty", &rec.Loyalty},
		{"tax", &rec.Tax},
		{"debit", &rec.Debit},
		{"cash", &rec.Cash},
		{"electronic", &rec.Electronic},
		{"totalCost", &rec.TotalCost},
	} {
		d, err := ParseCurrency(get(f.logical))
		if err != nil {
			return rec, err
		}
		*f.dst = d
	}
	return rec, nil
}

// =============================================================================
// DASHBOARD NAME ALIASES
// =============================================================================

// AliasTable maps dashboard location names to the registry's internal
// store names. Resolution is exact first, then substring fallback (the
// dashboards love decorating names with region suffixes); a miss returns
// the input unchanged. Fallback hits are logged so the mapping stays
// auditable.
type AliasTable map[string]string

// DefaultAliases covers the dashboard spellings seen in production
// exports. Keep sorted by key.
var DefaultAliases = AliasTable{
	"Bloom Bonita Springs":  "Bonita Springs",
	"Mint Deerfield":        "Deerfield",
	"Mint Willowbrook":      "Willowbrook",
	"Sunnyside Kansas City": "Kansas City",
	"Sunnyside Springfield": "Springfield",
}

// Resolve maps a dashboard name to an internal one.
func (a AliasTable) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if internal, ok := a[name]; ok {
		return internal
	}
	lower := strings.ToLower(name)
	for dash, internal := range a {
		if strings.Contains(lower, strings.ToLower(dash)) {
			log.Printf("[Alias] substring fallback: %q -> %q", name, internal)
			return internal
		}
	}
	return name
}

// StoreResolver matches an internal store name to its branch code and
// canonical name. The registry provides this; tests use a map.
type StoreResolver func(name string) (branch, storeName string, ok bool)

// AggregateTabular rolls tabular records up per store for one report
// date. Records dated differently from date are dropped (the padded
// exports include boundary days); records whose location cannot be
// matched are reported in unmatched.
func AggregateTabular(date localday.Date, records []TabularRecord, aliases AliasTable, resolve StoreResolver) (totals []StoreTotals, unmatched []string) {
	type rollup struct {
		totals *StoreTotals
		cash   decimal.Decimal
		debit  decimal.Decimal
		elec   decimal.Decimal
	}
	byBranch := make(map[string]*rollup)
	seenUnmatched := make(map[string]bool)

	for _, rec := range records {
		if rec.Date != "" && date != "" && rec.Date != date {
			continue
		}
		internal := aliases.Resolve(rec.Location)
		branch, storeName, ok := resolve(internal)
		if !ok {
			if !seenUnmatched[rec.Location] {
				seenUnmatched[rec.Location] = true
				unmatched = append(unmatched, rec.Location)
			}
			continue
		}

		r := byBranch[branch]
		if r == nil {
			r = &rollup{totals: &StoreTotals{Branch: branch, StoreName: storeName}}
			byBranch[branch] = r
		}
		t := r.totals
		t.TransactionCount++
		t.GrossSales = t.GrossSales.Add(rec.TotalPrice)
		t.Discounts = t.Discounts.Add(rec.Discount)
		t.LoyaltySpent = t.LoyaltySpent.Add(rec.Loyalty)
		t.Tax = t.Tax.Add(rec.Tax)
		t.COGS = t.COGS.Add(rec.TotalCost)
		r.cash = r.cash.Add(rec.Cash)
		r.debit = r.debit.Add(rec.Debit)
		r.elec = r.elec.Add(rec.Electronic)
	}

	branches := make([]string, 0, len(byBranch))
	for b := range byBranch {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	for _, b := range branches {
		r := byBranch[b]
		t := r.totals
		t.CashPaid = r.cash
		t.NetCash = r.cash
		t.DebitPaid = r.debit.Add(r.elec)

		// The pre-digested rollup reconciles tender against revenue
		// directly; COGS nets out of the plug because 50000 and 12250
		// post equal amounts. Historical dashboard exports carried the
		// plug with the opposite sign; it is normalized here so one
		// renderer and one balance check serve both ingestion paths.
		t.Overage = t.GrossSales.Add(t.Tax).
			Sub(t.Discounts.Add(t.LoyaltySpent).Add(r.cash).Add(r.debit).Add(r.elec))
		totals = append(totals, *t)
	}
	sort.Strings(unmatched)
	return totals, unmatched
}
