package preprocessing

import (
	"math"

	"github.com/umahmood/haversine"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/core/parallel"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
)

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DistanceInputColumns is the number of coordinate columns DistanceTransformer expects:
// pickup latitude, pickup longitude, dropoff latitude, dropoff longitude.
const DistanceInputColumns = 4

// Distance returns the great-circle distance in kilometres between p and q.
// The intermediate haversine term is clamped to [0, 1] so rounding never
// produces NaN for antipodal or identical points.
//
// haversine.Distance is not called: its atan2 form leaves the term unclamped
// and it also returns miles, which this package never uses.
func Distance(p, q haversine.Coord) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := q.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (q.Lon - p.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// DistanceTransformer maps each row of (pickup lat, pickup lon, dropoff lat,
// dropoff lon) to a single column holding the haversine distance in km.
//
// It is stateless: Fit only validates the input shape.
type DistanceTransformer struct {
	State *model.StateManager

	// Threshold is the row count above which rows are processed in parallel.
	Threshold int
}

// NewDistanceTransformer creates a DistanceTransformer.
func NewDistanceTransformer() *DistanceTransformer {
	return &DistanceTransformer{
		State:     model.NewStateManager(),
		Threshold: parallel.DefaultThreshold,
	}
}

// IsFitted reports whether Fit has been called.
func (d *DistanceTransformer) IsFitted() bool {
	return d.State.IsFitted()
}

func (d *DistanceTransformer) checkShape(op string, X mat.Matrix) (int, error) {
	r, c := X.Dims()
	if c != DistanceInputColumns {
		return 0, taxiErrors.NewDimensionError(op, DistanceInputColumns, c, 1)
	}
	return r, nil
}

// Fit validates that X has exactly four coordinate columns.
func (d *DistanceTransformer) Fit(X mat.Matrix) error {
	r, err := d.checkShape("DistanceTransformer.Fit", X)
	if err != nil {
		return err
	}
	if d.State == nil {
		d.State = model.NewStateManager()
	}
	d.State.SetDimensions(DistanceInputColumns, r)
	d.State.SetFitted()
	return nil
}

// Transform computes one distance per row. It behaves identically whether
// or not Fit has been called.
func (d *DistanceTransformer) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "DistanceTransformer.Transform")
	r, err := d.checkShape("DistanceTransformer.Transform", X)
	if err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	out := make([]float64, r)
	parallel.ParallelizeWithThreshold(r, d.Threshold, func(start, end int) {
		for i := start; i < end; i++ {
			pickup := haversine.Coord{Lat: X.At(i, 0), Lon: X.At(i, 1)}
			dropoff := haversine.Coord{Lat: X.At(i, 2), Lon: X.At(i, 3)}
			out[i] = Distance(pickup, dropoff)
		}
	})
	return mat.NewDense(r, 1, out), nil
}

// FitTransform validates X and returns its distances.
func (d *DistanceTransformer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := d.Fit(X); err != nil {
		return nil, err
	}
	return d.Transform(X)
}
