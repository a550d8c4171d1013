package gl_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/gl"
	"github.com/warp/pos-ledger/localday"
)

// =============================================================================
// CURRENCY PARSING
// =============================================================================

func TestParseCurrency(t *testing.T) {
	cases := map[string]string{
		"$1,234.56": "1234.56",
		"1234.56":   "1234.56",
		"(45.00)":   "-45",
		"($45.00)":  "-45",
		" $8.00 ":   "8",
		"":          "0",
		"-12.30":    "-12.3",
	}
	for in, want := range cases {
		got, err := gl.ParseCurrency(in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, dec(want).Equal(got), "input %q: want %s, got %s", in, want, got)
	}

	_, err := gl.ParseCurrency("twelve")
	assert.Error(t, err)
}

// =============================================================================
// CSV PARSING
// =============================================================================

const shortCSV = `Transaction Date,Location Name,Total Price,Amount,Total Tax,Debit Paid,Cash Paid,Total Cost
2026-01-06,Bloom Bonita Springs,$100.00,$0.00,$8.00,$58.00,$50.00,$40.00
2026-01-06,Sunnyside Kansas City,$60.00,$10.00,$4.00,$0.00,$54.00,$24.00
`

const longCSV = `Transactions Transaction Date,Lsp Location Location Name,Transaction Items Total Price,Transactions Total Tax
2026-01-06,Bloom Bonita Springs,$100.00,$8.00
`

func TestParseTabularCSV_ShortHeadings(t *testing.T) {
	records, err := gl.ParseTabularCSV(strings.NewReader(shortCSV))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, localday.Date("2026-01-06"), records[0].Date)
	assert.Equal(t, "Bloom Bonita Springs", records[0].Location)
	assert.True(t, dec("100").Equal(records[0].TotalPrice))
	assert.True(t, dec("58").Equal(records[0].Debit))
	assert.True(t, dec("0").Equal(records[0].Loyalty), "absent columns parse as zero")
}

func TestParseTabularCSV_LookerHeadings(t *testing.T) {
	records, err := gl.ParseTabularCSV(strings.NewReader(longCSV))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, dec("100").Equal(records[0].TotalPrice))
	assert.True(t, dec("8").Equal(records[0].Tax))
}

func TestParseTabularCSV_MissingRequiredColumns(t *testing.T) {
	_, err := gl.ParseTabularCSV(strings.NewReader("Total Price,Cash Paid\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")

	_, err = gl.ParseTabularCSV(strings.NewReader("Transaction Date,Total Price\n2026-01-06,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location")
}

// =============================================================================
// JSON PARSING
// =============================================================================

func TestParseTabularJSON_BareArray(t *testing.T) {
	body := `[
		{"Transaction Date": "2026-01-06", "Location Name": "Mint Deerfield", "Total Price": 100.5, "Total Tax": "8.00"}
	]`
	envDate, records, err := gl.ParseTabularJSON([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, envDate)
	require.Len(t, records, 1)
	assert.Equal(t, "Mint Deerfield", records[0].Location)
	assert.True(t, dec("100.5").Equal(records[0].TotalPrice), "numeric JSON values are accepted")
	assert.True(t, dec("8").Equal(records[0].Tax), "string JSON values are accepted")
}

func TestParseTabularJSON_Envelope(t *testing.T) {
	body := `{"date": "2026-01-06", "data": [
		{"Transaction Date": "2026-01-06T00:00:00", "Location Name": "Mint Deerfield", "Cash Paid": "$12.00"}
	]}`
	envDate, records, err := gl.ParseTabularJSON([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, localday.Date("2026-01-06"), envDate)
	require.Len(t, records, 1)
	assert.True(t, dec("12").Equal(records[0].Cash))
}

func TestParseTabularJSON_Garbage(t *testing.T) {
	_, _, err := gl.ParseTabularJSON([]byte(`"not rows"`))
	assert.Error(t, err)
}

// =============================================================================
// NAME ALIASING
// =============================================================================

func TestAliasTable_Resolve(t *testing.T) {
	aliases := gl.AliasTable{"Mint Willowbrook": "Willowbrook"}

	// Exact hit.
	assert.Equal(t, "Willowbrook", aliases.Resolve("Mint Willowbrook"))
	// Substring fallback: dashboards decorate names with region suffixes.
	assert.Equal(t, "Willowbrook", aliases.Resolve("Mint Willowbrook - IL"))
	// Miss: the input passes through unchanged.
	assert.Equal(t, "Unknown Shop", aliases.Resolve("Unknown Shop"))
}

// =============================================================================
// TABULAR ROLLUP
// =============================================================================

func testResolver(name string) (string, string, bool) {
	switch name {
	case "Bonita Springs":
		return "FLD-BONITA", "Bonita Springs", true
	case "Kansas City":
		return "MOD-KC", "Kansas City", true
	}
	return "", "", false
}

func TestAggregateTabular_RollupAndBalance(t *testing.T) {
	// GIVEN: A dashboard CSV with two stores
	// WHEN: Rolling up and rendering
	// THEN: Figures land per branch, sorted, and the journal balances

	records, err := gl.ParseTabularCSV(strings.NewReader(shortCSV))
	require.NoError(t, err)

	totals, unmatched := gl.AggregateTabular("2026-01-06", records, gl.DefaultAliases, testResolver)
	require.Empty(t, unmatched)
	require.Len(t, totals, 2)

	// Branches come back sorted.
	assert.Equal(t, "FLD-BONITA", totals[0].Branch)
	assert.Equal(t, "MOD-KC", totals[1].Branch)

	bonita := totals[0]
	assert.True(t, dec("100").Equal(bonita.GrossSales))
	assert.True(t, dec("50").Equal(bonita.NetCash))
	assert.True(t, dec("58").Equal(bonita.DebitPaid))
	assert.True(t, dec("40").Equal(bonita.COGS))
	assert.True(t, bonita.Overage.IsZero(), "100+8 tender vs 108 revenue reconciles")

	// 60+4 revenue vs 10 discount + 54 cash: overage reconciles the gap.
	kc := totals[1]
	assert.True(t, dec("0").Equal(kc.Overage), "64 - (10+54) = 0")

	_, err = gl.RenderJournal("2026-01-06", totals, gl.RenderOptions{Source: gl.SourceCSV})
	assert.NoError(t, err, "tabular totals must satisfy the double-entry check")
}

func TestAggregateTabular_UnmatchedAndOffDateRows(t *testing.T) {
	records := []gl.TabularRecord{
		{Date: "2026-01-06", Location: "Bloom Bonita Springs", TotalPrice: dec("10"), Cash: dec("10")},
		{Date: "2026-01-07", Location: "Bloom Bonita Springs", TotalPrice: dec("99"), Cash: dec("99")},
		{Date: "2026-01-06", Location: "Pop-up Stand"},
		{Date: "2026-01-06", Location: "Pop-up Stand"},
	}

	totals, unmatched := gl.AggregateTabular("2026-01-06", records, gl.DefaultAliases, testResolver)
	require.Len(t, totals, 1)
	assert.True(t, dec("10").Equal(totals[0].GrossSales), "the padded export's extra day is dropped")
	assert.Equal(t, []string{"Pop-up Stand"}, unmatched, "unmatched names are reported once")
}

func TestAggregateTabular_ShortageIsNegativeOverage(t *testing.T) {
	records := []gl.TabularRecord{
		{Date: "2026-01-06", Location: "Bloom Bonita Springs",
			TotalPrice: dec("100"), Tax: dec("8"), Cash: dec("60"), Debit: dec("58")},
	}
	totals, _ := gl.AggregateTabular("2026-01-06", records, gl.DefaultAliases, testResolver)
	require.Len(t, totals, 1)
	assert.True(t, dec("-10").Equal(totals[0].Overage), "excess tender posts as a credit plug")

	_, err := gl.RenderJournal("2026-01-06", totals, gl.RenderOptions{})
	assert.NoError(t, err)
}
