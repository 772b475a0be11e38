package linear_test

import (
	"bytes"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/linear"
)

// ExampleLinearRegression fits a per-km rate and a flag fall.
func ExampleLinearRegression() {
	// fare = 2.5 * km + 3
	km := mat.NewDense(4, 1, []float64{1, 2, 4, 8})
	fares := mat.NewVecDense(4, []float64{5.5, 8, 13, 23})

	lr := linear.NewLinearRegression()
	if err := lr.Fit(km, fares); err != nil {
		return
	}

	trips := mat.NewDense(2, 1, []float64{3, 10})
	predictions, err := lr.Predict(trips)
	if err != nil {
		return
	}
	for i := 0; i < 2; i++ {
		fmt.Printf("%.0f km: $%.2f\n", trips.At(i, 0), predictions.At(i, 0))
	}

	// Output:
	// 3 km: $10.50
	// 10 km: $28.00
}

// ExampleLinearRegression_oneHot fits distance next to a complete one-hot
// block. The block is collinear with the intercept; the minimum-norm
// solution still predicts every period, and an unseen period (all zeros)
// gets the average surcharge.
func ExampleLinearRegression_oneHot() {
	// distance, morning, midday, evening
	X := mat.NewDense(6, 4, []float64{
		1, 1, 0, 0,
		2, 0, 1, 0,
		3, 0, 0, 1,
		4, 1, 0, 0,
		5, 0, 1, 0,
		6, 0, 0, 1,
	})
	// fare = 2 * km + 5 + {0, 1, 2}
	y := mat.NewVecDense(6, []float64{7, 10, 13, 13, 16, 19})

	lr := linear.NewLinearRegression()
	if err := lr.Fit(X, y); err != nil {
		return
	}
	fmt.Printf("rank %d of %d features\n", lr.Rank, lr.NFeatures)

	trips := mat.NewDense(4, 4, []float64{
		2, 1, 0, 0,
		2, 0, 1, 0,
		2, 0, 0, 1,
		2, 0, 0, 0,
	})
	pred, err := lr.Predict(trips)
	if err != nil {
		return
	}
	for i, period := range []string{"morning", "midday", "evening", "unseen"} {
		fmt.Printf("%s: $%.2f\n", period, pred.At(i, 0))
	}

	// Output:
	// rank 3 of 4 features
	// morning: $9.00
	// midday: $10.00
	// evening: $11.00
	// unseen: $10.00
}

// ExampleLinearRegression_Score reports R² on the training trips.
func ExampleLinearRegression_Score() {
	km := mat.NewDense(5, 1, []float64{0.5, 1.5, 2.5, 3.5, 4.5})
	fares := mat.NewVecDense(5, []float64{4.25, 6.75, 9.25, 11.75, 14.25})

	lr := linear.NewLinearRegression()
	if err := lr.Fit(km, fares); err != nil {
		return
	}
	score, err := lr.Score(km, fares)
	if err != nil {
		return
	}

	fmt.Printf("fitted: %t\n", lr.IsFitted())
	fmt.Printf("R²: %.3f\n", score)

	// Output:
	// fitted: true
	// R²: 1.000
}

// ExampleLinearRegression_persistence round-trips a fitted model through gob.
func ExampleLinearRegression_persistence() {
	km := mat.NewDense(3, 1, []float64{1, 2, 3})
	fares := mat.NewVecDense(3, []float64{5.5, 8, 10.5})

	lr := linear.NewLinearRegression()
	if err := lr.Fit(km, fares); err != nil {
		return
	}

	// model.SaveModel writes the same encoding to a file
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(lr, &buf); err != nil {
		return
	}
	loaded := linear.NewLinearRegression()
	if err := model.LoadModelFromReader(loaded, &buf); err != nil {
		return
	}

	pred, err := loaded.Predict(mat.NewDense(1, 1, []float64{12}))
	if err != nil {
		return
	}
	fmt.Printf("rate: $%.2f/km, flag fall: $%.2f\n", loaded.GetWeights()[0], loaded.GetIntercept())
	fmt.Printf("12 km: $%.2f\n", pred.At(0, 0))

	// Output:
	// rate: $2.50/km, flag fall: $3.00
	// 12 km: $33.00
}
