package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// RenderHoldersCSV renders tracked holders as CSV in report order.
func RenderHoldersCSV(r *Report) (string, error) {
	rows := [][]string{{"rank", "chain", "label", "address", "quantity", "percentage"}}
	for _, h := range r.Holders {
		rows = append(rows, []string{
			strconv.Itoa(h.Rank),
			h.Chain.String(),
			h.Label,
			h.Address,
			h.Quantity,
			h.Percentage,
		})
	}
	return writeCSV(rows)
}

// RenderDistributionCSV renders per-chain shares as CSV. Unknown holder
// counts are empty cells.
func RenderDistributionCSV(r *Report) (string, error) {
	rows := [][]string{{"chain", "supply", "supply_percentage", "holder_count", "holder_percentage"}}
	for _, d := range r.Distribution {
		count := ""
		if d.HolderCount != nil {
			count = strconv.FormatInt(*d.HolderCount, 10)
		}
		rows = append(rows, []string{
			d.Chain.String(),
			d.Supply,
			d.SupplyPercentage,
			count,
			d.HolderPercentage,
		})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return sb.String(), nil
}
