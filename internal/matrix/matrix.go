// Package matrix holds the dense row-major matrix used for observed data,
// latent variables and running sums.
package matrix

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major matrix.
// Unlike mat.Dense it may have zero rows or columns, which happens for
// variants with no observed traits.
type Matrix struct {
	nRows    int
	nCols    int
	elements []float64
}

// New returns a zero-filled nRows x nCols matrix.
func New(nRows, nCols int) *Matrix {
	if nRows < 0 || nCols < 0 {
		panic(fmt.Sprintf("matrix: negative dimensions %dx%d", nRows, nCols))
	}
	return &Matrix{nRows: nRows, nCols: nCols, elements: make([]float64, nRows*nCols)}
}

// Fill returns a matrix whose element (i, j) is f(i, j).
func Fill(nRows, nCols int, f func(i, j int) float64) *Matrix {
	m := New(nRows, nCols)
	for i := 0; i < nRows; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = f(i, j)
		}
	}
	return m
}

// FromSlice wraps elements (row-major) without copying.
func FromSlice(nRows, nCols int, elements []float64) (*Matrix, error) {
	if nRows < 0 || nCols < 0 {
		return nil, fmt.Errorf("negative dimensions %dx%d", nRows, nCols)
	}
	if len(elements) != nRows*nCols {
		return nil, fmt.Errorf("need %d elements for %dx%d matrix, got %d",
			nRows*nCols, nRows, nCols, len(elements))
	}
	return &Matrix{nRows: nRows, nCols: nCols, elements: elements}, nil
}

// FromDense copies a gonum matrix.
func FromDense(d mat.Matrix) *Matrix {
	r, c := d.Dims()
	return Fill(r, c, func(i, j int) float64 { return d.At(i, j) })
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.nRows, m.nCols }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.nRows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.nCols }

// Row returns row i as a slice sharing storage with m.
func (m *Matrix) Row(i int) []float64 {
	if i < 0 || i >= m.nRows {
		panic(fmt.Sprintf("matrix: row index %d out of range [0, %d)", i, m.nRows))
	}
	return m.elements[i*m.nCols : (i+1)*m.nCols : (i+1)*m.nCols]
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 {
	m.check(i, j)
	return m.elements[i*m.nCols+j]
}

// Set sets element (i, j).
func (m *Matrix) Set(i, j int, v float64) {
	m.check(i, j)
	m.elements[i*m.nCols+j] = v
}

// AddAt adds v to element (i, j).
func (m *Matrix) AddAt(i, j int, v float64) {
	m.check(i, j)
	m.elements[i*m.nCols+j] += v
}

func (m *Matrix) check(i, j int) {
	if i < 0 || i >= m.nRows || j < 0 || j >= m.nCols {
		panic(fmt.Sprintf("matrix: index (%d, %d) out of range for %dx%d", i, j, m.nRows, m.nCols))
	}
}

// Elements returns the row-major backing slice.
func (m *Matrix) Elements() []float64 { return m.elements }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	elements := make([]float64, len(m.elements))
	copy(elements, m.elements)
	return &Matrix{nRows: m.nRows, nCols: m.nCols, elements: elements}
}

// OnlyCols returns a new matrix made of the given columns, in the given order.
func (m *Matrix) OnlyCols(cols []int) *Matrix {
	return Fill(m.nRows, len(cols), func(i, j int) float64 { return m.At(i, cols[j]) })
}

// OnlyRows returns a new matrix made of the given rows, in the given order.
func (m *Matrix) OnlyRows(rows []int) *Matrix {
	return Fill(len(rows), m.nCols, func(i, j int) float64 { return m.At(rows[i], j) })
}

// Add adds other element-wise into m. Dimensions must agree.
func (m *Matrix) Add(other *Matrix) {
	if m.nRows != other.nRows || m.nCols != other.nCols {
		panic(fmt.Sprintf("matrix: dimension mismatch %dx%d vs %dx%d",
			m.nRows, m.nCols, other.nRows, other.nCols))
	}
	for i, v := range other.elements {
		m.elements[i] += v
	}
}

// Dense returns a gonum view sharing storage with m.
// It returns nil for empty matrices since gonum does not allow them.
func (m *Matrix) Dense() *mat.Dense {
	if m.nRows == 0 || m.nCols == 0 {
		return nil
	}
	return mat.NewDense(m.nRows, m.nCols, m.elements)
}

type matrixJSON struct {
	NRows    int       `json:"n_rows" yaml:"n_rows"`
	NCols    int       `json:"n_cols" yaml:"n_cols"`
	Elements []float64 `json:"elements" yaml:"elements"`
}

// MarshalJSON writes the matrix as {"n_rows", "n_cols", "elements"}.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(matrixJSON{NRows: m.nRows, NCols: m.nCols, Elements: m.elements})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (m *Matrix) UnmarshalJSON(b []byte) error {
	var raw matrixJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Elements == nil {
		raw.Elements = []float64{}
	}
	parsed, err := FromSlice(raw.NRows, raw.NCols, raw.Elements)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// MarshalYAML writes the same shape as MarshalJSON.
func (m *Matrix) MarshalYAML() (interface{}, error) {
	return matrixJSON{NRows: m.nRows, NCols: m.nCols, Elements: m.elements}, nil
}

// UnmarshalYAML reads the form written by MarshalYAML.
func (m *Matrix) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw matrixJSON
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.Elements == nil {
		raw.Elements = []float64{}
	}
	parsed, err := FromSlice(raw.NRows, raw.NCols, raw.Elements)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// String formats the matrix with gonum's formatter.
func (m *Matrix) String() string {
	d := m.Dense()
	if d == nil {
		return fmt.Sprintf("[%dx%d]", m.nRows, m.nCols)
	}
	return fmt.Sprintf("%v", mat.Formatted(d, mat.Prefix(" ")))
}
