// Package frame provides Frame, a dense table of float64 columns addressed
// by name. Frame implements mat.Matrix so it can be handed to any
// transformer or estimator directly.
package frame

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/pkg/errors"
)

// Frame is a two-dimensional table wrapping gonum/mat.Dense with a column
// name for every column.
type Frame struct {
	data    *mat.Dense
	columns []string
	index   map[string]int
}

// New creates a frame with the given column names from row-major data.
func New(columns []string, data []float64) (*Frame, error) {
	if len(columns) == 0 {
		return nil, errors.NewValueError("frame.New", "at least one column must be provided")
	}
	if len(data)%len(columns) != 0 {
		return nil, errors.NewDimensionError("frame.New", len(columns), len(data)%len(columns), 1)
	}

	rows := len(data) / len(columns)
	if rows == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "frame.New")
	}
	return NewFromDense(columns, mat.NewDense(rows, len(columns), data))
}

// NewFromDense creates a frame over an existing mat.Dense without copying.
func NewFromDense(columns []string, dense *mat.Dense) (*Frame, error) {
	_, c := dense.Dims()
	if len(columns) != c {
		return nil, errors.NewDimensionError("frame.NewFromDense", len(columns), c, 1)
	}

	index := make(map[string]int, len(columns))
	for i, name := range columns {
		if _, dup := index[name]; dup {
			return nil, errors.NewValueError("frame.NewFromDense", "duplicate column name "+name)
		}
		index[name] = i
	}

	return &Frame{
		data:    dense,
		columns: append([]string(nil), columns...),
		index:   index,
	}, nil
}

// Dims returns the number of rows and columns.
func (f *Frame) Dims() (int, int) {
	return f.data.Dims()
}

// At returns the value at row i, column j.
func (f *Frame) At(i, j int) float64 {
	return f.data.At(i, j)
}

// T returns the transpose of the underlying matrix.
func (f *Frame) T() mat.Matrix {
	return f.data.T()
}

// Set sets the value at row i, column j.
func (f *Frame) Set(i, j int, v float64) {
	f.data.Set(i, j, v)
}

// Dense returns the underlying matrix. Mutating it mutates the frame.
func (f *Frame) Dense() *mat.Dense {
	return f.data
}

// ColumnNames returns a copy of the column names in order.
func (f *Frame) ColumnNames() []string {
	return append([]string(nil), f.columns...)
}

// ColumnIndex returns the position of the named column.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	j, ok := f.index[name]
	return j, ok
}

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns a copy of the named column's values.
func (f *Frame) Column(name string) ([]float64, error) {
	j, ok := f.index[name]
	if !ok {
		return nil, errors.NewColumnError("Frame.Column", []string{name}, f.columns)
	}
	r, _ := f.data.Dims()
	out := make([]float64, r)
	mat.Col(out, j, f.data)
	return out, nil
}

// ColVec returns the named column as a vector.
func (f *Frame) ColVec(name string) (*mat.VecDense, error) {
	col, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(col), col), nil
}

// Select returns a new frame holding copies of the named columns in the
// order given. Every missing name is reported in one ColumnError.
func (f *Frame) Select(names ...string) (*Frame, error) {
	var missing []string
	idx := make([]int, 0, len(names))
	for _, name := range names {
		j, ok := f.index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		idx = append(idx, j)
	}
	if len(missing) > 0 {
		return nil, errors.NewColumnError("Frame.Select", missing, f.columns)
	}
	if len(idx) == 0 {
		return nil, errors.NewValueError("Frame.Select", "no columns selected")
	}

	r, _ := f.data.Dims()
	out := mat.NewDense(r, len(idx), nil)
	for k, j := range idx {
		for i := 0; i < r; i++ {
			out.Set(i, k, f.data.At(i, j))
		}
	}
	return NewFromDense(names, out)
}

// Drop returns a new frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) (*Frame, error) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	keep := make([]string, 0, len(f.columns))
	for _, name := range f.columns {
		if !drop[name] {
			keep = append(keep, name)
		}
	}
	return f.Select(keep...)
}

// Rows returns a new frame holding copies of the given rows in order.
func (f *Frame) Rows(rows []int) (*Frame, error) {
	r, c := f.data.Dims()
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "Frame.Rows")
	}

	out := mat.NewDense(len(rows), c, nil)
	for k, i := range rows {
		if i < 0 || i >= r {
			return nil, errors.Newf("Frame.Rows: row index %d out of range [0, %d)", i, r)
		}
		out.SetRow(k, f.data.RawRowView(i))
	}
	return NewFromDense(f.columns, out)
}

// Filter returns the rows for which keep returns true, and how many
// were removed. keep receives the row index and a read-only view of the row.
func (f *Frame) Filter(keep func(i int, row []float64) bool) (*Frame, int, error) {
	r, _ := f.data.Dims()
	rows := make([]int, 0, r)
	for i := 0; i < r; i++ {
		if keep(i, f.data.RawRowView(i)) {
			rows = append(rows, i)
		}
	}
	out, err := f.Rows(rows)
	if err != nil {
		return nil, r - len(rows), err
	}
	return out, r - len(rows), nil
}

// Head returns a copy of the first n rows.
func (f *Frame) Head(n int) (*Frame, error) {
	r, _ := f.data.Dims()
	if n > r {
		n = r
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return f.Rows(rows)
}

// Copy creates a deep copy of the frame.
func (f *Frame) Copy() *Frame {
	var data mat.Dense
	data.CloneFrom(f.data)
	out, _ := NewFromDense(f.columns, &data)
	return out
}
