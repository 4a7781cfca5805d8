// Package data holds the observed GWAS effect sizes for a set of variants
// and the loaders that build them from one summary statistics file per
// trait.
package data

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"mocasa/internal/matrix"
)

var ErrIncompleteData = errors.New("incomplete data")

// Meta is the ordered variant ids and trait names of a data set. It is
// shared read-only between workers.
type Meta struct {
	VarIDs     []string
	TraitNames []string
}

// NDataPoints returns the number of variants.
func (m *Meta) NDataPoints() int { return len(m.VarIDs) }

// NTraits returns the number of traits.
func (m *Meta) NTraits() int { return len(m.TraitNames) }

// GwasData holds betas and standard errors, data points by traits.
// Missing observations are NaN. Never mutated after loading.
type GwasData struct {
	Meta  *Meta
	Betas *matrix.Matrix
	Ses   *matrix.Matrix
}

// NewGwasData checks that the matrices agree with meta.
func NewGwasData(meta *Meta, betas, ses *matrix.Matrix) (*GwasData, error) {
	for _, m := range []struct {
		name string
		m    *matrix.Matrix
	}{{"betas", betas}, {"standard errors", ses}} {
		if m.m.Rows() != meta.NDataPoints() || m.m.Cols() != meta.NTraits() {
			return nil, fmt.Errorf("%s matrix is %dx%d, expected %dx%d", m.name,
				m.m.Rows(), m.m.Cols(), meta.NDataPoints(), meta.NTraits())
		}
	}
	return &GwasData{Meta: meta, Betas: betas, Ses: ses}, nil
}

func (d *GwasData) NDataPoints() int { return d.Meta.NDataPoints() }
func (d *GwasData) NTraits() int     { return d.Meta.NTraits() }

// CheckComplete returns ErrIncompleteData naming the first variant and
// trait without a finite beta and a positive standard error.
func (d *GwasData) CheckComplete() error {
	for j := 0; j < d.NDataPoints(); j++ {
		for i := 0; i < d.NTraits(); i++ {
			beta, se := d.Betas.At(j, i), d.Ses.At(j, i)
			if math.IsNaN(beta) || math.IsInf(beta, 0) {
				return fmt.Errorf("variant %s has no beta for %s: %w",
					d.Meta.VarIDs[j], d.Meta.TraitNames[i], ErrIncompleteData)
			}
			if !(se > 0) || math.IsInf(se, 0) {
				return fmt.Errorf("variant %s has no valid standard error for %s: %w",
					d.Meta.VarIDs[j], d.Meta.TraitNames[i], ErrIncompleteData)
			}
		}
	}
	return nil
}

// OnlyDataPoint returns variant j restricted to its observed traits,
// along with the indices of those traits in the full trait list.
func (d *GwasData) OnlyDataPoint(j int) (*GwasData, []int) {
	var cols []int
	var names []string
	for i := 0; i < d.NTraits(); i++ {
		beta, se := d.Betas.At(j, i), d.Ses.At(j, i)
		if math.IsNaN(beta) || !(se > 0) {
			continue
		}
		cols = append(cols, i)
		names = append(names, d.Meta.TraitNames[i])
	}
	meta := &Meta{VarIDs: []string{d.Meta.VarIDs[j]}, TraitNames: names}
	row := []int{j}
	return &GwasData{
		Meta:  meta,
		Betas: d.Betas.OnlyRows(row).OnlyCols(cols),
		Ses:   d.Ses.OnlyRows(row).OnlyCols(cols),
	}, cols
}

// ReadIDs reads one variant id per line, ignoring blank lines and
// duplicates.
func ReadIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ids file %s: %w", path, err)
	}
	return ids, nil
}

// LoadForTraining loads the listed variants from every source. Every
// variant must have a finite beta and positive standard error for every
// trait.
func LoadForTraining(ctx context.Context, ids []string, sources []Source) (*GwasData, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no variant ids to train on: %w", ErrIncompleteData)
	}
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	tables, err := readAll(ctx, sources, keep, false)
	if err != nil {
		return nil, err
	}
	d, err := assemble(ids, sources, tables)
	if err != nil {
		return nil, err
	}
	if err := d.CheckComplete(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadForClassification loads variants from every source. If ids is
// empty, all variants are loaded in order of first appearance, walking
// the sources in trait order. Missing observations are NaN.
func LoadForClassification(ctx context.Context, ids []string, sources []Source) (*GwasData, error) {
	var keep map[string]struct{}
	if len(ids) > 0 {
		keep = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			keep[id] = struct{}{}
		}
	}
	tables, err := readAll(ctx, sources, keep, true)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		seen := make(map[string]struct{})
		for _, table := range tables {
			for _, id := range table.order {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return assemble(ids, sources, tables)
}

func readAll(ctx context.Context, sources []Source, keep map[string]struct{},
	allowDuplicates bool) ([]*gwasTable, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no GWAS sources configured")
	}
	tables := make([]*gwasTable, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			table, err := readGwasFile(source, keep, allowDuplicates)
			if err != nil {
				return fmt.Errorf("trait %s: %w", source.Name, err)
			}
			tables[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

func assemble(ids []string, sources []Source, tables []*gwasTable) (*GwasData, error) {
	nTraits := len(sources)
	names := make([]string, nTraits)
	for i, source := range sources {
		names[i] = source.Name
	}
	betas := matrix.Fill(len(ids), nTraits, func(int, int) float64 { return math.NaN() })
	ses := matrix.Fill(len(ids), nTraits, func(int, int) float64 { return math.NaN() })
	for j, id := range ids {
		for i, table := range tables {
			if value, ok := table.values[id]; ok {
				betas.Set(j, i, value.Beta)
				ses.Set(j, i, value.SE)
			}
		}
	}
	meta := &Meta{VarIDs: ids, TraitNames: names}
	return NewGwasData(meta, betas, ses)
}
