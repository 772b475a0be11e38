// Package metrics provides evaluation metrics for the fare regression.
//
// Regression Metrics:
//   - MSE: Mean Squared Error
//   - RMSE: Root Mean Squared Error (square root of MSE), the headline metric
//   - MAE: Mean Absolute Error
//   - R²: coefficient of determination
//
// Vector inputs use *mat.VecDense; Evaluate accepts column matrices such as
// the (n_samples, 1) output of a pipeline's Predict.
//
// Example usage:
//
//	rmse, err := metrics.RMSE(yTrue, yPred)
//	report, err := metrics.Evaluate(yTrue, predictions)
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
)

func validate(op string, yTrue, yPred *mat.VecDense) (int, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, taxiErrors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, taxiErrors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// MSE calculates the Mean Squared Error between true and predicted values.
//
// MSE = (1/n) * Σ(yTrue - yPred)²
//
// Errors:
//   - ValueError: if input vectors are empty
//   - DimensionError: if yTrue and yPred have different lengths
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := validate("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// RMSE calculates the Root Mean Squared Error, in the unit of the target.
//
// Example:
//
//	rmse, err := metrics.RMSE(yTrue, yPred)
//	fmt.Printf("RMSE: %.2f\n", rmse)
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE calculates the Mean Absolute Error.
//
// MAE = (1/n) * Σ|yTrue - yPred|
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := validate("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = yTrue.AtVec(i) - yPred.AtVec(i)
	}
	return floats.Norm(diff, 1) / float64(n), nil
}

// R2Score calculates the coefficient of determination.
//
// R² = 1 - RSS/TSS. A constant yTrue has an undefined score and is reported
// as a ValueError.
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := validate("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var yMean float64
	for i := 0; i < n; i++ {
		yMean += yTrue.AtVec(i)
	}
	yMean /= float64(n)

	var tss, rss float64
	for i := 0; i < n; i++ {
		yTrueVal := yTrue.AtVec(i)
		diff := yTrueVal - yPred.AtVec(i)
		tss += (yTrueVal - yMean) * (yTrueVal - yMean)
		rss += diff * diff
	}

	if tss == 0 {
		return 0, taxiErrors.NewValueError("R2Score", "total sum of squares is zero")
	}
	return 1 - rss/tss, nil
}

// ColumnVector copies a column matrix (n×1) or a vector into a new *mat.VecDense.
func ColumnVector(op string, m mat.Matrix) (*mat.VecDense, error) {
	if v, ok := m.(mat.Vector); ok {
		out := mat.NewVecDense(v.Len(), nil)
		out.CopyVec(v)
		return out, nil
	}

	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, taxiErrors.NewValueError(op, "empty matrix")
	}
	if c != 1 {
		return nil, taxiErrors.NewValueError(op, "expected a column vector (n×1)")
	}
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetVec(i, m.At(i, 0))
	}
	return out, nil
}

// MSEMatrix calculates MSE for column-matrix inputs.
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, err := ColumnVector("MSEMatrix", yTrue)
	if err != nil {
		return 0, err
	}
	p, err := ColumnVector("MSEMatrix", yPred)
	if err != nil {
		return 0, err
	}
	return MSE(t, p)
}

// Report holds the regression metrics of one evaluation.
type Report struct {
	Samples int
	RMSE    float64
	MAE     float64
	// R2 is NaN when the targets are constant.
	R2 float64
}

// Evaluate computes every metric of Report. yTrue and yPred may be vectors
// or column matrices.
func Evaluate(yTrue, yPred mat.Matrix) (Report, error) {
	t, err := ColumnVector("Evaluate", yTrue)
	if err != nil {
		return Report{}, err
	}
	p, err := ColumnVector("Evaluate", yPred)
	if err != nil {
		return Report{}, err
	}

	rmse, err := RMSE(t, p)
	if err != nil {
		return Report{}, err
	}
	mae, err := MAE(t, p)
	if err != nil {
		return Report{}, err
	}
	r2, err := R2Score(t, p)
	if err != nil {
		r2 = math.NaN()
	}

	return Report{Samples: t.Len(), RMSE: rmse, MAE: mae, R2: r2}, nil
}
