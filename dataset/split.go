package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/pkg/errors"
)

// Split is a shuffled train/test partition of a frame. The target column is
// removed from the feature frames.
type Split struct {
	XTrain *frame.Frame
	XTest  *frame.Frame
	YTrain *mat.VecDense
	YTest  *mat.VecDense
}

// Features returns the frame with the target column removed.
func Features(f *frame.Frame, target string) (*frame.Frame, error) {
	if !f.HasColumn(target) {
		return nil, errors.NewColumnError("Features", []string{target}, f.ColumnNames())
	}
	return f.Drop(target)
}

// TrainTestSplit shuffles the rows of f with seed and holds out
// ceil(n*testSize) of them for testing.
func TrainTestSplit(f *frame.Frame, target string, testSize float64, seed int64) (*Split, error) {
	if f == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "TrainTestSplit")
	}
	if testSize <= 0 || testSize >= 1 || math.IsNaN(testSize) {
		return nil, errors.NewValidationError("test_size", "must be in the open interval (0, 1)", testSize)
	}

	y, err := f.ColVec(target)
	if err != nil {
		return nil, err
	}
	X, err := Features(f, target)
	if err != nil {
		return nil, err
	}

	n, _ := f.Dims()
	nTest := int(math.Ceil(float64(n) * testSize))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("need at least one train and one test row, got %d row(s)", n))
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)
	testIdx, trainIdx := perm[:nTest], perm[nTest:]

	s := &Split{}
	if s.XTrain, err = X.Rows(trainIdx); err != nil {
		return nil, err
	}
	if s.XTest, err = X.Rows(testIdx); err != nil {
		return nil, err
	}
	s.YTrain = gather(y, trainIdx)
	s.YTest = gather(y, testIdx)
	return s, nil
}

func gather(v *mat.VecDense, idx []int) *mat.VecDense {
	out := mat.NewVecDense(len(idx), nil)
	for k, i := range idx {
		out.SetVec(k, v.AtVec(i))
	}
	return out
}
