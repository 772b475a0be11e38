package preprocessing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/preprocessing"
)

func TestOneHotEncoder_FitStrings(t *testing.T) {
	data := [][]string{
		{"cat", "red"},
		{"dog", "blue"},
		{"cat", "red"},
		{"fish", "green"},
	}

	encoder := preprocessing.NewOneHotEncoder()
	require.NoError(t, encoder.FitStrings(data))

	assert.True(t, encoder.IsFitted())
	assert.Equal(t, 2, encoder.NFeatures)
	assert.Equal(t, [][]string{
		{"cat", "dog", "fish"},
		{"blue", "green", "red"},
	}, encoder.Categories)
	assert.Equal(t, 6, encoder.NOutputs)

	out, err := encoder.TransformStrings([][]string{{"dog", "red"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 1}, mat.Row(nil, 0, out))

	assert.Equal(t,
		[]string{"animal_cat", "animal_dog", "animal_fish", "x1_blue", "x1_green", "x1_red"},
		encoder.GetFeatureNamesOut([]string{"animal"}))
}

func TestOneHotEncoder_NumericVocabularyIsSortedNumerically(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		10, 2015,
		2, 2009,
		10, 2015,
		1, 2012,
	})

	encoder := preprocessing.NewOneHotEncoder()
	out, err := encoder.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"1", "2", "10"}, {"2009", "2012", "2015"}}, encoder.Categories)

	r, c := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 6, c)
	assert.Equal(t, []float64{0, 1, 0, 1, 0, 0}, mat.Row(nil, 1, out))
	assert.Equal(t, []float64{0, 0, 1, 0, 0, 1}, mat.Row(nil, 0, out))
}

func TestOneHotEncoder_UnseenCategoriesEncodeAsZeros(t *testing.T) {
	train := mat.NewDense(3, 1, []float64{0, 1, 2})
	test := mat.NewDense(2, 1, []float64{1, 6})

	encoder := preprocessing.NewOneHotEncoder()
	require.NoError(t, encoder.Fit(train))
	vocab := encoder.Categories

	out, err := encoder.Transform(test)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 0}, mat.Row(nil, 0, out))
	assert.Equal(t, []float64{0, 0, 0}, mat.Row(nil, 1, out))
	// vocabulary unchanged after transforming unseen data
	assert.Equal(t, vocab, encoder.Categories)
	assert.Equal(t, 3, encoder.NOutputs)
}

func TestOneHotEncoder_HandleUnknownError(t *testing.T) {
	encoder := preprocessing.NewOneHotEncoder()
	encoder.HandleUnknown = preprocessing.HandleUnknownError
	require.NoError(t, encoder.Fit(mat.NewDense(2, 1, []float64{0, 1})))

	_, err := encoder.Transform(mat.NewDense(1, 1, []float64{5}))
	var ve *taxiErrors.ValueError
	require.True(t, taxiErrors.As(err, &ve))
	assert.Contains(t, ve.Message, `"5"`)

	encoder.HandleUnknown = "explode"
	err = encoder.Fit(mat.NewDense(1, 1, []float64{0}))
	var vErr *taxiErrors.ValidationError
	assert.True(t, taxiErrors.As(err, &vErr))
}

func TestOneHotEncoder_Errors(t *testing.T) {
	encoder := preprocessing.NewOneHotEncoder()

	_, err := encoder.Transform(mat.NewDense(1, 1, []float64{0}))
	var nfe *taxiErrors.NotFittedError
	assert.True(t, taxiErrors.As(err, &nfe))

	assert.Error(t, encoder.FitStrings(nil))
	assert.Error(t, encoder.FitStrings([][]string{{"a", "b"}, {"c"}}))

	require.NoError(t, encoder.Fit(mat.NewDense(2, 2, []float64{0, 1, 1, 0})))
	_, err = encoder.Transform(mat.NewDense(1, 1, []float64{0}))
	var de *taxiErrors.DimensionError
	assert.True(t, taxiErrors.As(err, &de))
}
