package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default GWAS column names and delimiter.
const (
	DefaultIDCol     = "VAR_ID"
	DefaultEffectCol = "BETA"
	DefaultSECol     = "SE"
	DefaultDelimiter = ';'
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrDuplicateID   = errors.New("duplicate variant id")
)

// GwasCols names the id, effect size and standard error columns of a GWAS file.
type GwasCols struct {
	ID     string `toml:"id" yaml:"id" json:"id"`
	Effect string `toml:"effect" yaml:"effect" json:"effect"`
	SE     string `toml:"se" yaml:"se" json:"se"`
}

// DefaultGwasCols returns VAR_ID, BETA and SE.
func DefaultGwasCols() GwasCols {
	return GwasCols{ID: DefaultIDCol, Effect: DefaultEffectCol, SE: DefaultSECol}
}

// WithDefaults fills empty column names with the defaults.
func (c GwasCols) WithDefaults() GwasCols {
	d := DefaultGwasCols()
	if c.ID == "" {
		c.ID = d.ID
	}
	if c.Effect == "" {
		c.Effect = d.Effect
	}
	if c.SE == "" {
		c.SE = d.SE
	}
	return c
}

// Source describes one trait's GWAS summary statistics file.
type Source struct {
	Name      string
	File      string
	Cols      GwasCols
	Delimiter rune
}

// BetaSe is one observed effect size with its standard error.
type BetaSe struct {
	Beta float64
	SE   float64
}

// GwasRecord is one parsed line of a GWAS file.
type GwasRecord struct {
	VarID string
	BetaSe
}

// GwasReader streams records from a delimited GWAS file.
type GwasReader struct {
	r      *csv.Reader
	iID    int
	iBeta  int
	iSE    int
	nCols  int
	line   int
	source string
}

// NewGwasReader reads the header and locates the configured columns.
func NewGwasReader(r io.Reader, cols GwasCols, delimiter rune, source string) (*GwasReader, error) {
	cols = cols.WithDefaults()
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: file is empty", source)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", source, err)
	}
	iID, iBeta, iSE := -1, -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case cols.ID:
			iID = i
		case cols.Effect:
			iBeta = i
		case cols.SE:
			iSE = i
		}
	}
	for _, c := range []struct {
		index int
		name  string
	}{{iID, cols.ID}, {iBeta, cols.Effect}, {iSE, cols.SE}} {
		if c.index < 0 {
			return nil, fmt.Errorf("%s: no %s column in header: %w", source, c.name, ErrMissingColumn)
		}
	}
	return &GwasReader{
		r: reader, iID: iID, iBeta: iBeta, iSE: iSE,
		nCols: len(header), line: 1, source: source,
	}, nil
}

// Next returns the next record, or io.EOF at the end of the file.
func (g *GwasReader) Next() (GwasRecord, error) {
	for {
		record, err := g.r.Read()
		if err == io.EOF {
			return GwasRecord{}, io.EOF
		}
		g.line++
		if err != nil {
			return GwasRecord{}, fmt.Errorf("%s: read line %d: %w", g.source, g.line, err)
		}
		// Skip completely empty lines
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != g.nCols {
			return GwasRecord{}, fmt.Errorf("%s: line %d: expected %d columns, got %d",
				g.source, g.line, g.nCols, len(record))
		}
		beta, err := parseValue(record[g.iBeta])
		if err != nil {
			return GwasRecord{}, fmt.Errorf("%s: line %d: effect: %w", g.source, g.line, err)
		}
		se, err := parseValue(record[g.iSE])
		if err != nil {
			return GwasRecord{}, fmt.Errorf("%s: line %d: standard error: %w", g.source, g.line, err)
		}
		return GwasRecord{VarID: strings.TrimSpace(record[g.iID]), BetaSe: BetaSe{Beta: beta, SE: se}}, nil
	}
}

// parseValue parses a float; empty and NA values become NaN.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "NA", "NAN", ".":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	return v, nil
}

// gwasTable is the content of one GWAS file.
type gwasTable struct {
	values map[string]BetaSe
	order  []string
}

// readGwasFile loads a whole GWAS file. If keep is non-nil, only ids in
// keep are retained.
func readGwasFile(source Source, keep map[string]struct{}, allowDuplicates bool) (*gwasTable, error) {
	f, err := os.Open(source.File)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", source.File, err)
	}
	defer f.Close()

	reader, err := NewGwasReader(f, source.Cols, source.Delimiter, source.File)
	if err != nil {
		return nil, err
	}
	table := &gwasTable{values: make(map[string]BetaSe)}
	for {
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if keep != nil {
			if _, ok := keep[record.VarID]; !ok {
				continue
			}
		}
		if _, seen := table.values[record.VarID]; seen {
			if allowDuplicates {
				continue
			}
			return nil, fmt.Errorf("%s: %s: %w", source.File, record.VarID, ErrDuplicateID)
		}
		table.values[record.VarID] = record.BetaSe
		table.order = append(table.order, record.VarID)
	}
	return table, nil
}

// WriteGwasFiles writes one file per trait into dir, named after the
// trait, with the default columns and delimiter. Missing values are
// written as NA. It returns the matching sources.
func WriteGwasFiles(d *GwasData, dir string) ([]Source, error) {
	sources := make([]Source, d.NTraits())
	for i, name := range d.Meta.TraitNames {
		path := filepath.Join(dir, name+".tsv")
		if err := writeGwasFile(d, i, path); err != nil {
			return nil, err
		}
		sources[i] = Source{Name: name, File: path, Cols: DefaultGwasCols(), Delimiter: DefaultDelimiter}
	}
	return sources, nil
}

func writeGwasFile(d *GwasData, i int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = DefaultDelimiter
	if err := w.Write([]string{DefaultIDCol, DefaultEffectCol, DefaultSECol}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for j, id := range d.Meta.VarIDs {
		record := []string{id, formatValue(d.Betas.At(j, i)), formatValue(d.Ses.At(j, i))}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
