package compose_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/preprocessing"
	"github.com/ezoic/taxifare/sklearn/compose"
	"github.com/ezoic/taxifare/sklearn/pipeline"
)

var coordinates = []string{"pickup_latitude", "pickup_longitude", "dropoff_latitude", "dropoff_longitude"}

func rides(t *testing.T, pickups ...time.Time) *frame.Frame {
	t.Helper()
	columns := append(append([]string{}, coordinates...), "pickup_datetime", "passenger_count")

	var data []float64
	for i, ts := range pickups {
		f := float64(i)
		data = append(data,
			40.70+0.01*f, -74.00+0.005*f, 40.75, -73.98,
			preprocessing.TimeToUnix(ts), 1,
		)
	}
	fr, err := frame.New(columns, data)
	require.NoError(t, err)
	return fr
}

func newPreprocessor() *compose.ColumnTransformer {
	distPipe := pipeline.New(
		pipeline.Step{Name: "dist_trans", Estimator: preprocessing.NewDistanceTransformer()},
		pipeline.Step{Name: "stdscaler", Estimator: preprocessing.NewStandardScalerDefault()},
	)
	timePipe := pipeline.New(
		pipeline.Step{Name: "time_enc", Estimator: preprocessing.NewTimeFeaturesEncoder("America/New_York")},
		pipeline.Step{Name: "ohe", Estimator: preprocessing.NewOneHotEncoder()},
	)
	return compose.NewColumnTransformer(
		compose.Branch{Name: "distance", Transformer: distPipe, Columns: coordinates},
		compose.Branch{Name: "time", Transformer: timePipe, Columns: []string{"pickup_datetime"}},
	)
}

func TestColumnTransformerLayout(t *testing.T) {
	train := rides(t,
		time.Date(2015, 6, 15, 12, 30, 0, 0, time.UTC), // Mon 08h Jun 2015 (NY)
		time.Date(2014, 1, 4, 20, 0, 0, 0, time.UTC),   // Sat 15h Jan 2014
		time.Date(2015, 6, 16, 12, 30, 0, 0, time.UTC), // Tue 08h Jun 2015
	)

	ct := newPreprocessor()
	out, err := ct.FitTransform(train)
	require.NoError(t, err)

	// 1 scaled distance + dow{0,1,5} + hour{8,15} + month{1,6} + year{2014,2015}
	r, c := out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 10, c)
	assert.Equal(t, []int{1, 9}, ct.BranchWidths)
	assert.Equal(t, 10, ct.NOutputs)

	assert.Equal(t,
		[]float64{1, 0, 0, 1, 0, 0, 1, 0, 1},
		mat.Row(nil, 0, out.(*mat.Dense).Slice(0, 3, 1, 10)))

	// scaled distance column has zero mean
	mean := (out.At(0, 0) + out.At(1, 0) + out.At(2, 0)) / 3
	assert.InDelta(t, 0.0, mean, 1e-12)
}

func TestColumnTransformerDoesNotRefit(t *testing.T) {
	train := rides(t,
		time.Date(2015, 6, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2014, 1, 4, 20, 0, 0, 0, time.UTC),
	)
	test := rides(t,
		time.Date(2011, 3, 3, 3, 0, 0, 0, time.UTC), // nothing seen at fit time
	)

	ct := newPreprocessor()
	_, err := ct.FitTransform(train)
	require.NoError(t, err)

	timePipe := ct.Branches[1].Transformer.(*pipeline.Pipeline)
	ohe, _ := timePipe.Step("ohe")
	vocab := append([][]string(nil), ohe.(*preprocessing.OneHotEncoder).Categories...)
	distPipe := ct.Branches[0].Transformer.(*pipeline.Pipeline)
	scalerStep, _ := distPipe.Step("stdscaler")
	scaler := scalerStep.(*preprocessing.StandardScaler)
	mean, scale := scaler.Mean[0], scaler.Scale[0]

	out, err := ct.Transform(test)
	require.NoError(t, err)

	_, c := out.Dims()
	assert.Equal(t, ct.NOutputs, c)
	for j := 1; j < c; j++ {
		assert.Equal(t, 0.0, out.At(0, j), "unseen categories encode as zeros")
	}
	assert.Equal(t, vocab, ohe.(*preprocessing.OneHotEncoder).Categories)
	assert.Equal(t, mean, scaler.Mean[0])
	assert.Equal(t, scale, scaler.Scale[0])
}

func TestColumnTransformerMissingColumns(t *testing.T) {
	fr, err := frame.New([]string{"pickup_latitude", "pickup_datetime"}, []float64{40.7, 0})
	require.NoError(t, err)

	_, err = newPreprocessor().FitTransform(fr)
	var ce *errors.ColumnError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"pickup_longitude", "dropoff_latitude", "dropoff_longitude"}, ce.Missing)
}

func TestColumnTransformerRequiresNamedInput(t *testing.T) {
	_, err := newPreprocessor().FitTransform(mat.NewDense(1, 6, nil))
	var ve *errors.ValueError
	assert.True(t, errors.As(err, &ve))
}

func TestColumnTransformerRemainder(t *testing.T) {
	train := rides(t,
		time.Date(2015, 6, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2014, 1, 4, 20, 0, 0, 0, time.UTC),
	)

	t.Run("passthrough appends unclaimed columns", func(t *testing.T) {
		ct := compose.NewColumnTransformer(
			compose.Branch{Name: "distance", Transformer: preprocessing.NewDistanceTransformer(), Columns: coordinates},
		)
		ct.Remainder = compose.Passthrough

		out, err := ct.FitTransform(train)
		require.NoError(t, err)
		assert.Equal(t, []string{"pickup_datetime", "passenger_count"}, ct.RemainderColumns)

		_, c := out.Dims()
		assert.Equal(t, 3, c)
		assert.Equal(t, 1.0, out.At(1, 2))
	})

	t.Run("passthrough and drop branches", func(t *testing.T) {
		ct := compose.NewColumnTransformer(
			compose.Branch{Name: "raw", Transformer: compose.Passthrough, Columns: []string{"passenger_count"}},
			compose.Branch{Name: "gone", Transformer: compose.Drop, Columns: coordinates},
		)
		out, err := ct.FitTransform(train)
		require.NoError(t, err)
		_, c := out.Dims()
		assert.Equal(t, 1, c)
	})

	t.Run("invalid remainder", func(t *testing.T) {
		ct := newPreprocessor()
		ct.Remainder = "keep"
		_, err := ct.FitTransform(train)
		var ve *errors.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "remainder", ve.ParamName)
	})
}

func TestColumnTransformerGobRoundTrip(t *testing.T) {
	train := rides(t,
		time.Date(2015, 6, 15, 12, 30, 0, 0, time.UTC),
		time.Date(2014, 1, 4, 20, 0, 0, 0, time.UTC),
		time.Date(2013, 9, 1, 1, 0, 0, 0, time.UTC),
	)
	ct := newPreprocessor()
	want, err := ct.FitTransform(train)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(ct, &buf))
	var loaded compose.ColumnTransformer
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	got, err := loaded.Transform(train)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))
}
