package pipeline_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/linear"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
	"github.com/ezoic/taxifare/preprocessing"
	"github.com/ezoic/taxifare/sklearn/pipeline"
)

func trainingData() (*mat.Dense, *mat.VecDense) {
	// y = 3*x0 - 2*x1 + 1
	X := mat.NewDense(6, 2, []float64{
		1, 1,
		2, 0,
		3, 5,
		4, 2,
		5, 8,
		6, 3,
	})
	y := mat.NewVecDense(6, nil)
	for i := 0; i < 6; i++ {
		y.SetVec(i, 3*X.At(i, 0)-2*X.At(i, 1)+1)
	}
	return X, y
}

func newPipeline() *pipeline.Pipeline {
	return pipeline.New(
		pipeline.Step{Name: "scaler", Estimator: preprocessing.NewStandardScalerDefault()},
		pipeline.Step{Name: "linear_model", Estimator: linear.NewLinearRegression()},
	)
}

func TestPipelineFitPredict(t *testing.T) {
	X, y := trainingData()
	pipe := newPipeline()

	assert.False(t, pipe.IsFitted())
	pred, err := pipe.FitPredict(X, y)
	require.NoError(t, err)
	assert.True(t, pipe.IsFitted())

	for i := 0; i < 6; i++ {
		assert.InDelta(t, y.AtVec(i), pred.At(i, 0), 1e-9)
	}

	score, err := pipe.Score(X, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	scaler, ok := pipe.Step("scaler")
	require.True(t, ok)
	assert.True(t, scaler.(*preprocessing.StandardScaler).IsFitted())
	assert.Contains(t, pipe.GetParams(), "scaler__with_mean")
}

func TestPipelineNotFitted(t *testing.T) {
	X, _ := trainingData()
	_, err := newPipeline().Predict(X)

	var nfe *errors.NotFittedError
	require.True(t, errors.As(err, &nfe))
	assert.Equal(t, "Pipeline", nfe.ModelName)
}

func TestPipelineRejectsNonTransformerStep(t *testing.T) {
	X, y := trainingData()
	pipe := pipeline.New(
		pipeline.Step{Name: "bogus", Estimator: 42},
		pipeline.Step{Name: "linear_model", Estimator: linear.NewLinearRegression()},
	)

	err := pipe.Fit(X, y)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "bogus", ve.Value)
}

func TestPipelineFitTransform(t *testing.T) {
	X, _ := trainingData()
	pipe := pipeline.Make(
		preprocessing.NewStandardScalerDefault(),
		preprocessing.NewStandardScaler(false, true),
	)
	assert.Equal(t, "standardscaler", pipe.Steps[0].Name)

	out, err := pipe.FitTransform(X, nil)
	require.NoError(t, err)

	again, err := pipe.Transform(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(out, again, 1e-12))
}

func TestPipelineVerboseLogsSteps(t *testing.T) {
	provider, logger := log.NewTestLoggerProvider(log.LevelInfo)
	log.SetProvider(provider)
	defer log.SetProvider(log.NewZerologProvider(log.LevelInfo))

	X, y := trainingData()
	pipe := newPipeline()
	pipe.Verbose = true
	require.NoError(t, pipe.Fit(X, y))

	assert.True(t, logger.ContainsField(log.StepKey, "scaler"))
	assert.True(t, logger.ContainsField(log.StepKey, "linear_model"))
}

func TestPipelineGobRoundTrip(t *testing.T) {
	X, y := trainingData()
	pipe := newPipeline()
	require.NoError(t, pipe.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(pipe, &buf))

	var loaded pipeline.Pipeline
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))
	require.True(t, loaded.IsFitted())

	want, err := pipe.Predict(X)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}
