package hourly

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/warp/pos-ledger/gl"
	"github.com/warp/pos-ledger/localday"
)

var aggregatedColumns = []string{
	"Branch", "Store Name", "Hour (UTC)", "Sales", "Transactions",
	"Discounts", "Tax", "Returns", "Net Sales",
}

var detailedColumns = []string{
	"Branch", "Store Name", "Date", "Hour (UTC)", "Sales", "Transactions",
	"Discounts", "Tax", "Returns", "Net Sales",
}

func bucketFields(b Bucket) []string {
	return []string{
		gl.FormatMoney(b.Sales),
		strconv.Itoa(b.Transactions),
		gl.FormatMoney(b.Discounts),
		gl.FormatMoney(b.Tax),
		gl.FormatMoney(b.Returns),
		gl.FormatMoney(b.NetSales()),
	}
}

// AggregatedRows flattens the range profiles: 24 rows per store, hours
// 0..23 even when empty, stores in input order.
func AggregatedRows(stores []StoreHourly) [][]string {
	var rows [][]string
	for _, s := range stores {
		for h := 0; h < 24; h++ {
			row := append([]string{s.Branch, s.StoreName, strconv.Itoa(h)}, bucketFields(s.Profile[h])...)
			rows = append(rows, row)
		}
	}
	return rows
}

// DetailedRows flattens the per-day grids: 24 rows per store per
// reporting day, days sorted ascending.
func DetailedRows(stores []StoreHourly) [][]string {
	var rows [][]string
	for _, s := range stores {
		days := make([]localday.Date, 0, len(s.Days))
		for d := range s.Days {
			days = append(days, d)
		}
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

		for _, d := range days {
			grid := s.Days[d]
			for h := 0; h < 24; h++ {
				row := append([]string{s.Branch, s.StoreName, string(d), strconv.Itoa(h)}, bucketFields(grid[h])...)
				rows = append(rows, row)
			}
		}
	}
	return rows
}

func renderCSV(columns []string, rows [][]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(columns)
	w.WriteAll(rows)
	return buf.Bytes()
}

func renderTSV(title string, start, end localday.Date, generatedAt time.Time, columns []string, rows [][]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", title)
	fmt.Fprintf(&buf, "# Source of truth: pos-api\n")
	fmt.Fprintf(&buf, "# Reporting range: %s to %s\n", start, end)
	fmt.Fprintf(&buf, "# Generated: %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "# Methodology: local wall-clock hours mapped to UTC buckets per store timezone.\n")

	all := append([][]string{columns}, rows...)
	for _, row := range all {
		for i, f := range row {
			if i > 0 {
				buf.WriteByte('\t')
			}
			buf.WriteString(f)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteFiles writes the four hourly outputs (aggregated and detailed,
// each as CSV and TSV) under dir and returns their paths.
func WriteFiles(dir string, start, end localday.Date, stores []StoreHourly, generatedAt time.Time) ([]string, error) {
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	agg := AggregatedRows(stores)
	det := DetailedRows(stores)

	outputs := []struct {
		name string
		data []byte
	}{
		{fmt.Sprintf("hourly_sales_aggregated_%s_to_%s.csv", start, end), renderCSV(aggregatedColumns, agg)},
		{fmt.Sprintf("hourly_sales_aggregated_%s_to_%s.tsv", start, end), renderTSV("Hourly Sales (Aggregated)", start, end, generatedAt, aggregatedColumns, agg)},
		{fmt.Sprintf("hourly_sales_detailed_%s_to_%s.csv", start, end), renderCSV(detailedColumns, det)},
		{fmt.Sprintf("hourly_sales_detailed_%s_to_%s.tsv", start, end), renderTSV("Hourly Sales (Detailed)", start, end, generatedAt, detailedColumns, det)},
	}

	paths := make([]string, 0, len(outputs))
	for _, out := range outputs {
		p := filepath.Join(dir, out.name)
		if err := os.WriteFile(p, out.data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
