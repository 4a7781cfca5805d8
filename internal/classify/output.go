package classify

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
)

// Header returns the output columns: id, the mean and std of every
// endophenotype, the posterior mean of every trait and the exact
// posterior mean of every endophenotype.
func Header(nEndos int, traitNames []string) []string {
	header := []string{"id"}
	for k := 0; k < nEndos; k++ {
		header = append(header, fmt.Sprintf("E_mean_%d", k), fmt.Sprintf("E_std_%d", k))
	}
	for _, trait := range traitNames {
		header = append(header, "T_mean_"+trait)
	}
	for k := 0; k < nEndos; k++ {
		header = append(header, fmt.Sprintf("E_exact_%d", k))
	}
	return header
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// record is the output row of r. Failed variants get NA throughout.
func record(r Result, nEndos, nTraits int) []string {
	row := make([]string, 0, 1+3*nEndos+nTraits)
	row = append(row, r.VarID)
	for k := 0; k < nEndos; k++ {
		if r.Err != nil {
			row = append(row, "NA", "NA")
			continue
		}
		row = append(row, formatFloat(r.EMeans[k]), formatFloat(r.EStds[k]))
	}
	for i := 0; i < nTraits; i++ {
		if r.Err != nil {
			row = append(row, "NA")
			continue
		}
		row = append(row, formatFloat(r.TMeans[i]))
	}
	for k := 0; k < nEndos; k++ {
		if r.Err != nil {
			row = append(row, "NA")
			continue
		}
		row = append(row, formatFloat(r.EExact[k]))
	}
	return row
}

// WriteResults writes one tab-separated line per result, in order.
func WriteResults(path string, nEndos int, traitNames []string, results []Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = '\t'
	if err := writer.Write(Header(nEndos, traitNames)); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for _, r := range results {
		if err := writer.Write(record(r, nEndos, len(traitNames))); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", r.VarID, path, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return file.Close()
}
