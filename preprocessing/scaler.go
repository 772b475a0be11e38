// Package preprocessing provides the feature transformers of the taxi-fare
// pipeline.
//
// This package implements scikit-learn compatible preprocessing components:
//
//   - DistanceTransformer: haversine trip distance from pickup/dropoff coordinates
//   - TimeFeaturesEncoder: day-of-week, hour, month and year of the pickup time
//   - StandardScaler: standardizes features by removing the mean and scaling to unit variance
//   - OneHotEncoder: encodes categorical features as one-hot numeric arrays
//
// All components follow the Fit / Transform / FitTransform pattern of
// model.Transformer, hold their fitted state in a *model.StateManager and are
// registered with encoding/gob so a fitted pipeline can be persisted.
//
// Example usage:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(trainingData)
//	if err != nil {
//		log.Fatal(err)
//	}
//	scaledData, err := scaler.Transform(testData)
package preprocessing

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/taxifare/core/model"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

func init() {
	gob.Register(&StandardScaler{})
	gob.Register(&OneHotEncoder{})
	gob.Register(&DistanceTransformer{})
	gob.Register(&TimeFeaturesEncoder{})
}

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	State *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（母分散ベース）
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler creates a new StandardScaler for feature standardization.
//
// Parameters:
//   - withMean: whether to center the data at zero by removing the mean
//   - withStd: whether to scale the data to unit variance
//
// Example:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	err := scaler.Fit(X_train)
//	X_scaled, err := scaler.Transform(X_test)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		State:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// IsFitted reports whether Fit has completed.
func (s *StandardScaler) IsFitted() bool {
	return s.State.IsFitted()
}

// Fit computes the feature-wise mean and population standard deviation.
// Features with (near) zero variance get a scale of 1.
//
// Errors:
//   - ErrEmptyData: if X is empty
func (s *StandardScaler) Fit(X mat.Matrix) (err error) {
	defer taxiErrors.Recover(&err, "StandardScaler.Fit")
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return taxiErrors.NewModelError("StandardScaler.Fit", "empty data", taxiErrors.ErrEmptyData)
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)

		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1.0
		if s.WithStd && math.Abs(std) >= 1e-8 {
			s.Scale[j] = std
		}
	}

	s.State.SetDimensions(c, r)
	s.State.SetFitted()

	log.GetLoggerWithName("preprocessing").Debug("StandardScaler fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)
	return nil
}

// Transform applies X_scaled = (X - mean) / scale using the fitted statistics.
//
// Errors:
//   - NotFittedError: if the scaler hasn't been fitted yet
//   - DimensionError: if X doesn't match the number of features from training
func (s *StandardScaler) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "StandardScaler.Transform")
	if err := s.State.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, taxiErrors.NewDimensionError("StandardScaler.Transform", len(s.Mean), c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return result, nil
}

// FitTransform fits the scaler and transforms the training data in one step.
func (s *StandardScaler) FitTransform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "StandardScaler.FitTransform")
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform reverses the standardization: X_orig = X_scaled * scale + mean.
func (s *StandardScaler) InverseTransform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "StandardScaler.InverseTransform")
	if err := s.State.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != len(s.Mean) {
		return nil, taxiErrors.NewDimensionError("StandardScaler.InverseTransform", len(s.Mean), c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return result, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, len(s.Mean))
}
