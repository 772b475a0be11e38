// Package linear provides the linear regression model of the taxi-fare pipeline.
//
//   - LinearRegression: ordinary least squares with an intercept, solved as a
//     minimum-norm least-squares problem through the singular value decomposition
//
// The SVD solve tolerates rank-deficient designs such as a full set of one-hot
// indicators next to the intercept: redundant directions get zero weight
// instead of failing the fit.
//
// Example usage:
//
//	lr := linear.NewLinearRegression()
//	err := lr.Fit(X, y) // X: features, y: target values
//	if err != nil {
//		log.Fatal(err)
//	}
//	predictions, err := lr.Predict(XTest)
//
// Fitted models are registered with encoding/gob and can be persisted with
// model.SaveModel, on their own or as the final step of a pipeline.
package linear

import (
	"encoding/gob"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/core/parallel"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

func init() {
	gob.Register(&LinearRegression{})
}

// LinearRegression is a linear regression model
type LinearRegression struct {
	State     *model.StateManager // State manager (composition instead of embedding) - Public for gob encoding
	Weights   *mat.VecDense       // Model weights (coefficients)
	Intercept float64             // Model intercept
	NFeatures int                 // Number of features
	Rank      int                 // Effective rank of the centered design matrix

	// RCond is the cutoff, relative to the largest singular value, below
	// which singular values are treated as zero. Zero means DefaultRCond.
	RCond float64

	logger log.Logger // Logger instance
}

// NewLinearRegression creates a new linear regression model for ordinary least squares regression.
//
// Returns:
//   - *LinearRegression: A new untrained linear regression model
//
// Example:
//
//	lr := linear.NewLinearRegression()
//	err := lr.Fit(X, y)
//	predictions, err := lr.Predict(X_test)
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{
		State: model.NewStateManager(),
	}
}

func (lr *LinearRegression) log() log.Logger {
	if lr.logger == nil {
		lr.logger = log.GetLoggerWithName("linear").With(
			log.ModelNameKey, "LinearRegression",
			log.ComponentKey, "linear",
		)
	}
	return lr.logger
}

// Fit trains the linear regression model using the provided training data.
//
// X and y are centered, the centered design is factorized with a thin SVD
// and the minimum-norm least-squares weights are recovered from it. The
// intercept is mean(y) - mean(X)·w.
//
// Parameters:
//   - X: Feature matrix of shape (n_samples, n_features)
//   - y: Target vector of shape (n_samples, 1)
//
// Errors:
//   - ErrEmptyData: if X or y are empty
//   - DimensionError: if the number of samples in X and y don't match
//   - ErrSingularMatrix: if the SVD fails to converge
func (lr *LinearRegression) Fit(X, y mat.Matrix) (err error) {
	defer taxiErrors.Recover(&err, "LinearRegression.Fit")

	startTime := time.Now()
	r, c := X.Dims()
	ry, cy := y.Dims()

	lr.log().Info("Training started",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)

	if r == 0 || c == 0 {
		return taxiErrors.NewModelError("LinearRegression.Fit", "empty data", taxiErrors.ErrEmptyData)
	}
	if ry != r {
		return taxiErrors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return taxiErrors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}

	// Column means of X and mean of y
	xMean := make([]float64, c)
	yMean := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			xMean[j] += X.At(i, j)
		}
		yMean += y.At(i, 0)
	}
	for j := range xMean {
		xMean[j] /= float64(r)
	}
	yMean /= float64(r)

	// Parallelization threshold (use sequential processing for row counts below this value)
	const parallelThreshold = 1000

	Xc := mat.NewDense(r, c, nil)
	yc := mat.NewVecDense(r, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				Xc.Set(i, j, X.At(i, j)-xMean[j])
			}
			yc.SetVec(i, y.At(i, 0)-yMean)
		}
	})

	var svd mat.SVD
	if ok := svd.Factorize(Xc, mat.SVDThin); !ok {
		return taxiErrors.NewModelError("LinearRegression.Fit", "singular matrix", taxiErrors.ErrSingularMatrix)
	}

	rcond := lr.RCond
	if rcond <= 0 {
		rcond = DefaultRCond
	}
	rank := svd.Rank(rcond)

	weights := mat.NewVecDense(c, nil)
	if rank > 0 {
		svd.SolveVecTo(weights, yc, rank)
	}

	intercept := yMean
	for j := 0; j < c; j++ {
		intercept -= xMean[j] * weights.AtVec(j)
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return taxiErrors.NewModelError("LinearRegression.Fit", "non-finite solution", taxiErrors.ErrSingularMatrix)
	}

	lr.Weights = weights
	lr.Intercept = intercept
	lr.NFeatures = c
	lr.Rank = rank

	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	lr.State.SetFitted()
	lr.State.SetDimensions(lr.NFeatures, r)

	if rank < c {
		lr.log().Debug("Design matrix is rank deficient, using minimum-norm solution",
			log.RankKey, rank,
			log.FeaturesKey, c,
		)
	}
	lr.log().Info("Training completed",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.DurationMsKey, time.Since(startTime).Milliseconds(),
		log.SamplesKey, r,
		log.FeaturesKey, c,
		log.RankKey, rank,
	)

	return nil
}

// DefaultRCond is the relative singular value cutoff used when RCond is unset.
const DefaultRCond = 1e-10

// Predict generates predictions for the input feature matrix using the trained model.
//
// y_pred = X * weights + intercept
//
// Returns:
//   - mat.Matrix: Prediction matrix of shape (n_samples, 1)
//
// Errors:
//   - NotFittedError: if the model hasn't been trained yet
//   - DimensionError: if X has different number of features than training data
func (lr *LinearRegression) Predict(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "LinearRegression.Predict")
	if !lr.State.IsFitted() {
		return nil, taxiErrors.NewNotFittedError("LinearRegression", "Predict")
	}

	r, c := X.Dims()
	if c != lr.NFeatures {
		return nil, taxiErrors.NewDimensionError("LinearRegression.Predict", lr.NFeatures, c, 1)
	}

	lr.log().Debug("Prediction started",
		log.OperationKey, log.OperationPredict,
		log.PhaseKey, log.PhaseInference,
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)

	var out mat.VecDense
	out.MulVec(X, lr.Weights)

	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		predictions.Set(i, 0, out.AtVec(i)+lr.Intercept)
	}

	lr.log().Debug("Prediction completed",
		log.OperationKey, log.OperationPredict,
		log.PredsKey, r,
	)

	return predictions, nil
}

// GetWeights returns the learned weights (coefficients)
func (lr *LinearRegression) GetWeights() []float64 {
	if lr.Weights == nil {
		return nil
	}

	weights := make([]float64, lr.Weights.Len())
	for i := 0; i < lr.Weights.Len(); i++ {
		weights[i] = lr.Weights.AtVec(i)
	}
	return weights
}

// GetIntercept returns the learned intercept
func (lr *LinearRegression) GetIntercept() float64 {
	if !lr.State.IsFitted() {
		return 0
	}
	return lr.Intercept
}

// Score calculates the coefficient of determination (R²) of the model
func (lr *LinearRegression) Score(X, y mat.Matrix) (_ float64, err error) {
	defer taxiErrors.Recover(&err, "LinearRegression.Score")
	if !lr.State.IsFitted() {
		return 0, taxiErrors.NewNotFittedError("LinearRegression", "Score")
	}

	yPred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}

	r, _ := y.Dims()
	var yMean float64
	for i := 0; i < r; i++ {
		yMean += y.At(i, 0)
	}
	yMean /= float64(r)

	var tss, rss float64
	for i := 0; i < r; i++ {
		yTrue := y.At(i, 0)
		yPredVal := yPred.At(i, 0)

		tss += (yTrue - yMean) * (yTrue - yMean)
		rss += (yTrue - yPredVal) * (yTrue - yPredVal)
	}

	// R² = 1 - RSS/TSS
	if tss == 0 {
		return 0, taxiErrors.NewValueError("LinearRegression.Score", "total sum of squares is zero")
	}

	return 1 - rss/tss, nil
}

// IsFitted returns whether the model has been fitted.
func (lr *LinearRegression) IsFitted() bool {
	return lr.State.IsFitted()
}

// GetParams returns the model's hyperparameters.
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"rcond":      lr.RCond,
		"n_features": lr.NFeatures,
		"fitted":     lr.State.IsFitted(),
	}
}

// String returns a short description of the model.
func (lr *LinearRegression) String() string {
	if !lr.IsFitted() {
		return "LinearRegression()"
	}
	return fmt.Sprintf("LinearRegression(n_features=%d, rank=%d)", lr.NFeatures, lr.Rank)
}
