/*
render.go - Journal rendering to TSV and CSV

PURPOSE:
  Turns StoreTotals into the fixed 10-row-per-store journal and serializes
  it. One parameterized renderer replaces the historical per-source
  exporter variants: the input source only affects the file name suffix
  and the TSV banner text.

BALANCE CHECK:
  After composing the rows (including the overage plug), the renderer
  verifies sum(debit) == sum(credit) per store within a half-cent. A
  violation means the aggregator itself is wrong; it aborts the export
  with diagnostics rather than shipping an unbalanced journal.

OVERAGE VARIANTS:
  Two conventions exist in the books' history. The default, split-sign,
  posts positive overage as a debit and negative as a credit (absolute
  value), keeping both printed columns non-negative. The signed-credit
  variant posts one signed figure in the credit column, with the sign
  flipped to the historical convention. Both balance.
*/
package gl

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pos-ledger/localday"
)

// ErrImbalance is returned when a rendered store journal fails the
// double-entry check. It indicates a programming error upstream and is
// fatal for the job.
var ErrImbalance = errors.New("gl: journal does not balance")

// Source identifies which ingestion path produced the totals. It selects
// the output file suffix and is named in the TSV banner.
type Source string

const (
	SourcePOSAPI Source = "pos-api"
	SourceCSV    Source = "csv"
	SourceJSON   Source = "json"
	SourcePost   Source = "post"
	SourceUpload Source = "upload"
)

// OverageVariant selects how the 70260 plug row is printed.
type OverageVariant int

const (
	// OverageSplitSign: positive -> debit column, negative -> credit
	// column (absolute value). The default.
	OverageSplitSign OverageVariant = iota
	// OverageSignedCredit: one signed figure in the credit column, using
	// the historical debits-minus-credits sign (a cash shortage prints
	// positive). May print a negative amount.
	OverageSignedCredit
)

// RenderOptions parameterizes one rendering run.
type RenderOptions struct {
	Source  Source
	Variant OverageVariant
	// GeneratedAt stamps the TSV banner; the zero value means time.Now().
	// Tests pin it for byte-identical output.
	GeneratedAt time.Time
}

// JournalRow is one rendered GL line with all columns already formatted.
type JournalRow struct {
	Branch      string
	StoreName   string
	AccountCode string
	AccountDesc string
	Subaccount  string
	RefNumber   string
	Quantity    string
	UOM         string
	Debit       string
	Credit      string
}

var journalColumns = []string{
	"Branch", "Dutchie Store Name", "Account", "Description", "Subaccount",
	"Ref. Number", "Quantity", "UOM", "Debit Amount", "Credit Amount",
}

func (r JournalRow) fields() []string {
	return []string{
		r.Branch, r.StoreName, r.AccountCode, r.AccountDesc, r.Subaccount,
		r.RefNumber, r.Quantity, r.UOM, r.Debit, r.Credit,
	}
}

// balanceTolerance absorbs two-decimal rounding: half a cent.
var balanceTolerance = decimal.New(5, -3)

// RenderJournal composes the fixed 10-row journal for every store, in
// input order, and verifies double-entry balance per store.
func RenderJournal(date localday.Date, totals []StoreTotals, opts RenderOptions) ([]JournalRow, error) {
	ref := fmt.Sprintf("%s DS", date)
	rows := make([]JournalRow, 0, len(totals)*len(chart))

	for _, t := range totals {
		sumDebit, sumCredit := decimal.Zero, decimal.Zero

		for _, acct := range chart {
			amount := acct.Amount(t).Round(2)
			debit, credit := decimal.Zero, decimal.Zero

			switch acct.Side {
			case SideDebit:
				debit = amount
			case SideCredit:
				credit = amount
			case SideBalance:
				switch opts.Variant {
				case OverageSignedCredit:
					// The internal overage is credits-minus-debits; the
					// historical column convention is its negation.
					credit = amount.Neg()
				default: // OverageSplitSign
					if amount.IsNegative() {
						credit = amount.Neg()
					} else {
						debit = amount
					}
				}
			}

			sumDebit = sumDebit.Add(debit)
			sumCredit = sumCredit.Add(credit)

			rows = append(rows, JournalRow{
				Branch:      t.Branch,
				StoreName:   t.StoreName,
				AccountCode: acct.Code,
				AccountDesc: acct.Desc,
				Subaccount:  subaccountFor(acct.Code),
				RefNumber:   ref,
				Quantity:    "1.00",
				UOM:         "",
				Debit:       FormatMoney(debit),
				Credit:      FormatMoney(credit),
			})
		}

		if diff := sumDebit.Sub(sumCredit).Abs(); diff.GreaterThan(balanceTolerance) {
			return nil, fmt.Errorf("%w: store %s (%s) on %s: debits %s, credits %s",
				ErrImbalance, t.Branch, t.StoreName, date,
				FormatMoney(sumDebit), FormatMoney(sumCredit))
		}
	}
	return rows, nil
}

// RenderTSV serializes rows as tab-separated text with the `#` banner.
// TSV values are never quoted; the account descriptions and branch codes
// contain no tabs by construction.
func RenderTSV(date localday.Date, rows []JournalRow, opts RenderOptions) []byte {
	at := opts.GeneratedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	src := opts.Source
	if src == "" {
		src = SourcePOSAPI
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# GL Journal Export\n")
	fmt.Fprintf(&buf, "# Source of truth: %s\n", src)
	fmt.Fprintf(&buf, "# Report date: %s\n", date)
	fmt.Fprintf(&buf, "# Generated: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "# Methodology: transactions are attributed to each store's local business day;\n")
	fmt.Fprintf(&buf, "# returns are backdated to the original sale; account 70260 plugs the journal to balance.\n")

	writeTabLine(&buf, journalColumns)
	for _, r := range rows {
		writeTabLine(&buf, r.fields())
	}
	return buf.Bytes()
}

func writeTabLine(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(f)
	}
	buf.WriteByte('\n')
}

// RenderCSV serializes rows as RFC-4180 CSV, no banner. encoding/csv
// handles the quoting rules (commas, quotes, newlines).
func RenderCSV(rows []JournalRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(journalColumns)
	for _, r := range rows {
		w.Write(r.fields())
	}
	w.Flush()
	return buf.Bytes()
}

// FileNames returns the TSV and CSV output names for a report date. The
// POS API is the authoritative source and gets the bare name; alternate
// ingestion paths are suffixed so re-runs never clobber the books.
func FileNames(date localday.Date, src Source) (tsv, csvName string) {
	base := fmt.Sprintf("gl_journal_%s", date)
	if src != "" && src != SourcePOSAPI {
		base = fmt.Sprintf("%s_%s", base, src)
	}
	return base + ".tsv", base + ".csv"
}

// WriteFiles renders and writes both output formats under dir, creating
// it if needed. Re-running the same date overwrites in place.
func WriteFiles(dir string, date localday.Date, totals []StoreTotals, opts RenderOptions) ([]string, error) {
	rows, err := RenderJournal(date, totals, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tsvName, csvName := FileNames(date, opts.Source)
	tsvPath := filepath.Join(dir, tsvName)
	csvPath := filepath.Join(dir, csvName)

	if err := os.WriteFile(tsvPath, RenderTSV(date, rows, opts), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(csvPath, RenderCSV(rows), 0o644); err != nil {
		return nil, err
	}
	return []string{tsvPath, csvPath}, nil
}
