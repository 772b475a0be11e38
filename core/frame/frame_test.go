package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/pkg/errors"
)

func sample(t *testing.T) *Frame {
	t.Helper()
	f, err := New([]string{"a", "b", "c"}, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	f := sample(t)
	r, c := f.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 6.0, f.At(1, 2))

	var _ mat.Matrix = f

	_, err := New([]string{"a", "b"}, []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = New([]string{"a", "a"}, []float64{1, 2})
	assert.Error(t, err)

	_, err = New([]string{"a"}, nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestColumnAccess(t *testing.T) {
	f := sample(t)

	j, ok := f.ColumnIndex("b")
	assert.True(t, ok)
	assert.Equal(t, 1, j)

	col, err := f.Column("c")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6, 9}, col)

	_, err = f.Column("missing")
	var ce *errors.ColumnError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"missing"}, ce.Missing)
	assert.Equal(t, []string{"a", "b", "c"}, ce.Available)
}

func TestSelectAndDrop(t *testing.T) {
	f := sample(t)

	sel, err := f.Select("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, sel.ColumnNames())
	assert.Equal(t, 7.0, sel.At(2, 1))

	// selection copies
	sel.Set(0, 0, math.NaN())
	assert.Equal(t, 3.0, f.At(0, 2))

	_, err = f.Select("a", "x", "y")
	var ce *errors.ColumnError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"x", "y"}, ce.Missing)

	dropped, err := f.Drop("b", "nope")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, dropped.ColumnNames())
}

func TestRowsFilterHead(t *testing.T) {
	f := sample(t)

	rows, err := f.Rows([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 7.0, rows.At(0, 0))
	assert.Equal(t, 1.0, rows.At(1, 0))

	_, err = f.Rows([]int{3})
	assert.Error(t, err)

	filtered, removed, err := f.Filter(func(_ int, row []float64) bool { return row[0] > 1 })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	r, _ := filtered.Dims()
	assert.Equal(t, 2, r)

	_, removed, err = f.Filter(func(int, []float64) bool { return false })
	assert.Equal(t, 3, removed)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	head, err := f.Head(10)
	require.NoError(t, err)
	r, _ = head.Dims()
	assert.Equal(t, 3, r)
}

func TestCopy(t *testing.T) {
	f := sample(t)
	c := f.Copy()
	c.Set(0, 0, 100)
	assert.Equal(t, 1.0, f.At(0, 0))
	assert.Equal(t, f.ColumnNames(), c.ColumnNames())
}
