package matrix

import (
	"encoding/json"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestFill_RowMajor(t *testing.T) {
	m := Fill(2, 3, func(i, j int) float64 { return float64(10*i + j) })

	if r, c := m.Dims(); r != 2 || c != 3 {
		t.Fatalf("Dims = %dx%d, want 2x3", r, c)
	}
	want := []float64{0, 1, 2, 10, 11, 12}
	for k, v := range m.Elements() {
		if v != want[k] {
			t.Errorf("elements[%d] = %v, want %v", k, v, want[k])
		}
	}
	row := m.Row(1)
	row[0] = 99
	if m.At(1, 0) != 99 {
		t.Errorf("Row should share storage, At(1,0) = %v", m.At(1, 0))
	}
}

func TestRow_OutOfRangePanics(t *testing.T) {
	m := New(2, 2)
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for row 2 of 2x2 matrix")
		}
	}()
	m.Row(2)
}

func TestOnlyCols(t *testing.T) {
	m := Fill(2, 3, func(i, j int) float64 { return float64(10*i + j) })
	sub := m.OnlyCols([]int{2, 0})

	if r, c := sub.Dims(); r != 2 || c != 2 {
		t.Fatalf("Dims = %dx%d, want 2x2", r, c)
	}
	if sub.At(0, 0) != 2 || sub.At(0, 1) != 0 || sub.At(1, 0) != 12 || sub.At(1, 1) != 10 {
		t.Errorf("unexpected sub matrix %v", sub.Elements())
	}
}

func TestEmptyMatrix(t *testing.T) {
	m := New(1, 0)
	if m.Dense() != nil {
		t.Errorf("Dense of empty matrix should be nil")
	}
	if len(m.Row(0)) != 0 {
		t.Errorf("row of 1x0 matrix should be empty")
	}
}

func TestDenseSharesStorage(t *testing.T) {
	m := New(2, 2)
	d := m.Dense()
	d.Set(1, 1, 5)
	if m.At(1, 1) != 5 {
		t.Errorf("At(1,1) = %v, want 5", m.At(1, 1))
	}

	back := FromDense(mat.NewDense(1, 2, []float64{3, 4}))
	if back.At(0, 1) != 4 {
		t.Errorf("FromDense At(0,1) = %v, want 4", back.At(0, 1))
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := Fill(2, 2, func(i, j int) float64 { return float64(i) + 0.25*float64(j) })
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	var back Matrix
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if back.At(i, j) != m.At(i, j) {
				t.Errorf("At(%d,%d) = %v, want %v", i, j, back.At(i, j), m.At(i, j))
			}
		}
	}

	if err := json.Unmarshal([]byte(`{"n_rows":2,"n_cols":2,"elements":[1]}`), &back); err == nil {
		t.Errorf("expected error for short elements")
	}
}
