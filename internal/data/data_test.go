package data

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestGwasReader_DefaultColumns(t *testing.T) {
	input := "CHR;VAR_ID;BETA;SE\n1;rs1;0.5;0.1\n\n1;rs2;NA;0.2\n"
	reader, err := NewGwasReader(strings.NewReader(input), GwasCols{}, 0, "test")
	require.NoError(t, err)

	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "rs1", first.VarID)
	assert.Equal(t, 0.5, first.Beta)
	assert.Equal(t, 0.1, first.SE)

	second, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "rs2", second.VarID)
	assert.True(t, math.IsNaN(second.Beta))
}

func TestGwasReader_CustomColumnsAndDelimiter(t *testing.T) {
	input := "snp\teffect\tstderr\nrs9\t-1.5\t0.3\n"
	cols := GwasCols{ID: "snp", Effect: "effect", SE: "stderr"}
	reader, err := NewGwasReader(strings.NewReader(input), cols, '\t', "test")
	require.NoError(t, err)
	record, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, GwasRecord{VarID: "rs9", BetaSe: BetaSe{Beta: -1.5, SE: 0.3}}, record)
}

func TestGwasReader_MissingColumn(t *testing.T) {
	_, err := NewGwasReader(strings.NewReader("VAR_ID;BETA\nrs1;1\n"), GwasCols{}, 0, "test.tsv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "SE")
}

func TestGwasReader_BadNumber(t *testing.T) {
	reader, err := NewGwasReader(strings.NewReader("VAR_ID;BETA;SE\nrs1;abc;1\n"), GwasCols{}, 0, "bad.tsv")
	require.NoError(t, err)
	_, err = reader.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func testSources(t *testing.T) []Source {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.tsv", "VAR_ID;BETA;SE\nrs1;1;0.1\nrs2;2;0.2\nrs3;3;0.3\n")
	b := writeFile(t, dir, "b.tsv", "VAR_ID;BETA;SE\nrs2;20;0.2\nrs1;10;0.1\nrs4;40;0.4\n")
	return []Source{{Name: "a", File: a}, {Name: "b", File: b}}
}

func TestLoadForTraining(t *testing.T) {
	sources := testSources(t)
	d, err := LoadForTraining(context.Background(), []string{"rs2", "rs1"}, sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"rs2", "rs1"}, d.Meta.VarIDs)
	assert.Equal(t, []string{"a", "b"}, d.Meta.TraitNames)
	assert.Equal(t, 2.0, d.Betas.At(0, 0))
	assert.Equal(t, 20.0, d.Betas.At(0, 1))
	assert.Equal(t, 0.1, d.Ses.At(1, 1))
}

func TestLoadForTraining_Incomplete(t *testing.T) {
	sources := testSources(t)
	_, err := LoadForTraining(context.Background(), []string{"rs1", "rs3"}, sources)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompleteData))
	assert.Contains(t, err.Error(), "rs3")
	assert.Contains(t, err.Error(), "b")
}

func TestLoadForTraining_DuplicateIsError(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.tsv", "VAR_ID;BETA;SE\nrs1;1;0.1\nrs1;2;0.2\n")
	_, err := LoadForTraining(context.Background(), []string{"rs1"}, []Source{{Name: "a", File: a}})
	assert.True(t, errors.Is(err, ErrDuplicateID))
}

func TestLoadForClassification_UnionInOrder(t *testing.T) {
	sources := testSources(t)
	d, err := LoadForClassification(context.Background(), nil, sources)
	require.NoError(t, err)
	assert.Equal(t, []string{"rs1", "rs2", "rs3", "rs4"}, d.Meta.VarIDs)
	assert.True(t, math.IsNaN(d.Betas.At(2, 1)), "rs3 has no b value")
	assert.True(t, math.IsNaN(d.Betas.At(3, 0)), "rs4 has no a value")

	point, cols := d.OnlyDataPoint(3)
	assert.Equal(t, []int{1}, cols)
	assert.Equal(t, []string{"b"}, point.Meta.TraitNames)
	assert.Equal(t, []string{"rs4"}, point.Meta.VarIDs)
	assert.Equal(t, 40.0, point.Betas.At(0, 0))
	assert.Equal(t, 0.4, point.Ses.At(0, 0))
}

func TestLoadForClassification_OnlyIDs(t *testing.T) {
	sources := testSources(t)
	d, err := LoadForClassification(context.Background(), []string{"rs4", "rs9"}, sources)
	require.NoError(t, err)
	assert.Equal(t, 2, d.NDataPoints())
	point, cols := d.OnlyDataPoint(1)
	assert.Empty(t, cols)
	assert.Equal(t, 0, point.NTraits())
}

func TestReadIDs(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ids.txt", "rs1\n\n rs2 \nrs1\n")
	ids, err := ReadIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rs1", "rs2"}, ids)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadForClassification(context.Background(), nil,
		[]Source{{Name: "x", File: filepath.Join(t.TempDir(), "nope.tsv")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.tsv")
}

func TestWriteGwasFiles_ReadBack(t *testing.T) {
	sources := testSources(t)
	d, err := LoadForClassification(context.Background(), nil, sources)
	require.NoError(t, err)

	written, err := WriteGwasFiles(d, t.TempDir())
	require.NoError(t, err)
	require.Len(t, written, 2)
	back, err := LoadForClassification(context.Background(), nil, written)
	require.NoError(t, err)
	assert.Equal(t, d.Meta.VarIDs, back.Meta.VarIDs)
	assert.Equal(t, d.Meta.TraitNames, back.Meta.TraitNames)
	for j := 0; j < d.NDataPoints(); j++ {
		for i := 0; i < d.NTraits(); i++ {
			if math.IsNaN(d.Betas.At(j, i)) {
				assert.True(t, math.IsNaN(back.Betas.At(j, i)))
				continue
			}
			assert.Equal(t, d.Betas.At(j, i), back.Betas.At(j, i))
			assert.Equal(t, d.Ses.At(j, i), back.Ses.At(j, i))
		}
	}
}
