package gl_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/gl"
)

// balancedTotals is a store whose figures reconcile perfectly.
func balancedTotals() gl.StoreTotals {
	return gl.StoreTotals{
		Branch:     "MOD-KC",
		StoreName:  "Kansas City",
		GrossSales: dec("100"),
		Tax:        dec("8"),
		COGS:       dec("40"),
		NetCash:    dec("108"),
	}
}

// =============================================================================
// JOURNAL COMPOSITION
// =============================================================================

func TestRenderJournal_TenRowsPerStore(t *testing.T) {
	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{balancedTotals()}, gl.RenderOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 10, "the journal shape is fixed at 10 accounts")

	byCode := map[string]gl.JournalRow{}
	for _, r := range rows {
		byCode[r.AccountCode] = r
		assert.Equal(t, "2026-01-06 DS", r.RefNumber)
		assert.Equal(t, "1.00", r.Quantity)
		assert.Equal(t, "MOD-KC", r.Branch)
	}

	assert.Equal(t, "100.00", byCode["40001"].Credit)
	assert.Equal(t, "0.00", byCode["40001"].Debit)
	assert.Equal(t, "8.00", byCode["23500"].Credit)
	assert.Equal(t, "108.00", byCode["10000"].Debit)
	assert.Equal(t, "40.00", byCode["50000"].Debit)
	assert.Equal(t, "40.00", byCode["12250"].Credit)
	// Returns are structurally zero but the row is still rendered.
	assert.Equal(t, "0.00", byCode["40003"].Debit)
}

func TestRenderJournal_Subaccounts(t *testing.T) {
	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{balancedTotals()}, gl.RenderOptions{})
	require.NoError(t, err)

	want := map[string]string{
		"40001": "20-00", "40002": "20-00", "40003": "20-00", "40004": "20-00",
		"23500": "00-00", "10000": "00-00", "11010": "00-00",
		"70260": "20-00", "50000": "20-00", "12250": "00-00",
	}
	for _, r := range rows {
		assert.Equal(t, want[r.AccountCode], r.Subaccount, "account %s", r.AccountCode)
	}
}

func TestRenderJournal_BalancePerStore(t *testing.T) {
	// GIVEN: One balanced store and one with a corrupted overage
	// THEN: The export aborts naming the broken store

	bad := balancedTotals()
	bad.Branch = "FLD-BONITA"
	bad.StoreName = "Bonita Springs"
	bad.Overage = dec("9.99") // does not reconcile anything

	_, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{balancedTotals(), bad}, gl.RenderOptions{})
	require.ErrorIs(t, err, gl.ErrImbalance)
	assert.Contains(t, err.Error(), "FLD-BONITA")
}

// =============================================================================
// OVERAGE VARIANTS
// =============================================================================

// overageTotals yields a store that is short (or over) by exactly amt:
// credits 100, debits 100 - amt before the plug.
func overageTotals(amt string) gl.StoreTotals {
	return gl.StoreTotals{
		Branch:     "B",
		StoreName:  "S",
		GrossSales: dec("100"),
		NetCash:    dec("100").Sub(dec(amt)),
		Overage:    dec(amt),
	}
}

func overageRow(t *testing.T, rows []gl.JournalRow) gl.JournalRow {
	t.Helper()
	for _, r := range rows {
		if r.AccountCode == "70260" {
			return r
		}
	}
	t.Fatal("no 70260 row")
	return gl.JournalRow{}
}

func TestOverage_SplitSign(t *testing.T) {
	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{overageTotals("2.00")}, gl.RenderOptions{})
	require.NoError(t, err)
	r := overageRow(t, rows)
	assert.Equal(t, "2.00", r.Debit)
	assert.Equal(t, "0.00", r.Credit)

	rows, err = gl.RenderJournal("2026-01-06", []gl.StoreTotals{overageTotals("-3.50")}, gl.RenderOptions{})
	require.NoError(t, err)
	r = overageRow(t, rows)
	assert.Equal(t, "0.00", r.Debit)
	assert.Equal(t, "3.50", r.Credit, "negative overage prints as a positive credit")
}

func TestOverage_SignedCredit(t *testing.T) {
	opts := gl.RenderOptions{Variant: gl.OverageSignedCredit}

	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{overageTotals("2.00")}, opts)
	require.NoError(t, err)
	r := overageRow(t, rows)
	assert.Equal(t, "0.00", r.Debit)
	assert.Equal(t, "-2.00", r.Credit, "historical convention flips the sign")

	rows, err = gl.RenderJournal("2026-01-06", []gl.StoreTotals{overageTotals("-3.50")}, opts)
	require.NoError(t, err)
	assert.Equal(t, "3.50", overageRow(t, rows).Credit)
}

// =============================================================================
// MONEY FORMATTING
// =============================================================================

func TestFormatMoney(t *testing.T) {
	cases := map[string]string{
		"0":         "0.00",
		"5":         "5.00",
		"950.5":     "950.50",
		"1234.567":  "1,234.57",
		"1234567.8": "1,234,567.80",
		"-950":      "-950.00",
		"-1234.5":   "-1,234.50",
		"1000000":   "1,000,000.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, gl.FormatMoney(dec(in)), "input %s", in)
	}
}

// =============================================================================
// SERIALIZATION AND FILES
// =============================================================================

func TestRenderTSV_Banner(t *testing.T) {
	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{balancedTotals()}, gl.RenderOptions{})
	require.NoError(t, err)

	at := time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)
	out := string(gl.RenderTSV("2026-01-06", rows, gl.RenderOptions{Source: gl.SourcePost, GeneratedAt: at}))

	lines := strings.Split(out, "\n")
	assert.Equal(t, "# GL Journal Export", lines[0])
	assert.Equal(t, "# Source of truth: post", lines[1])
	assert.Equal(t, "# Report date: 2026-01-06", lines[2])
	assert.Equal(t, "# Generated: 2026-01-07T08:00:00Z", lines[3])

	header := lines[6]
	assert.Equal(t, "Branch\tDutchie Store Name\tAccount\tDescription\tSubaccount\tRef. Number\tQuantity\tUOM\tDebit Amount\tCredit Amount", header)
	assert.Len(t, lines, 6+1+10+1, "banner + header + 10 rows + trailing newline")
}

func TestRenderCSV_QuotesThousands(t *testing.T) {
	totals := gl.StoreTotals{
		Branch: "B", StoreName: "S",
		GrossSales: dec("1234"),
		NetCash:    dec("1234"),
	}
	rows, err := gl.RenderJournal("2026-01-06", []gl.StoreTotals{totals}, gl.RenderOptions{})
	require.NoError(t, err)

	out := string(gl.RenderCSV(rows))
	assert.Contains(t, out, `"1,234.00"`, "comma-bearing amounts must be quoted")
}

func TestFileNames(t *testing.T) {
	tsv, csvName := gl.FileNames("2026-01-06", gl.SourcePOSAPI)
	assert.Equal(t, "gl_journal_2026-01-06.tsv", tsv)
	assert.Equal(t, "gl_journal_2026-01-06.csv", csvName)

	tsv, csvName = gl.FileNames("2026-01-06", gl.SourcePost)
	assert.Equal(t, "gl_journal_2026-01-06_post.tsv", tsv)
	assert.Equal(t, "gl_journal_2026-01-06_post.csv", csvName)
}

func TestWriteFiles_CSVRoundTrip(t *testing.T) {
	// GIVEN: A written export
	// WHEN: Reading the CSV back with a standards-compliant reader
	// THEN: The exact grid comes back

	dir := t.TempDir()
	files, err := gl.WriteFiles(dir, "2026-01-06", []gl.StoreTotals{balancedTotals()}, gl.RenderOptions{
		GeneratedAt: time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, files, 2)

	f, err := os.Open(filepath.Join(dir, "gl_journal_2026-01-06.csv"))
	require.NoError(t, err)
	defer f.Close()

	grid, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, grid, 11, "header + 10 rows")
	assert.Equal(t, "Branch", grid[0][0])
	assert.Equal(t, "40001", grid[1][2])
	assert.Equal(t, "100.00", grid[1][9])
}

func TestWriteFiles_ImbalanceWritesNothing(t *testing.T) {
	dir := t.TempDir()
	bad := balancedTotals()
	bad.Overage = dec("1.00")

	_, err := gl.WriteFiles(dir, "2026-01-06", []gl.StoreTotals{bad}, gl.RenderOptions{})
	require.ErrorIs(t, err, gl.ErrImbalance)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "an unbalanced journal must never reach disk")
}
