package preprocessing

import (
	"math"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata" // timezone database for hosts without zoneinfo

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/core/parallel"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
)

// DefaultTimezone is the zone pickup timestamps are converted into.
const DefaultTimezone = "America/New_York"

// TimeFeatureNames are the output columns of TimeFeaturesEncoder, in order.
var TimeFeatureNames = []string{"dow", "hour", "month", "year"}

// TimeFeaturesEncoder extracts calendar features from a single column of
// Unix-second timestamps: day of week (Monday=0 ... Sunday=6), hour (0-23),
// month (1-12) and year, all evaluated in Timezone.
//
// It learns nothing: Fit validates the input and the timezone.
type TimeFeaturesEncoder struct {
	State *model.StateManager

	// Timezone is an IANA zone name. Empty means DefaultTimezone.
	Timezone string

	// Threshold is the row count above which rows are processed in parallel.
	Threshold int

	mu  sync.Mutex
	loc *time.Location
}

// NewTimeFeaturesEncoder creates an encoder for the given timezone.
func NewTimeFeaturesEncoder(timezone string) *TimeFeaturesEncoder {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return &TimeFeaturesEncoder{
		State:     model.NewStateManager(),
		Timezone:  timezone,
		Threshold: parallel.DefaultThreshold,
	}
}

// IsFitted reports whether Fit has been called.
func (t *TimeFeaturesEncoder) IsFitted() bool {
	return t.State.IsFitted()
}

func (t *TimeFeaturesEncoder) location() (*time.Location, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loc != nil {
		return t.loc, nil
	}
	name := t.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, taxiErrors.NewValidationError("time_zone", "unknown timezone: "+err.Error(), name)
	}
	t.loc = loc
	return loc, nil
}

func (t *TimeFeaturesEncoder) validate(op string, X mat.Matrix) (int, *time.Location, error) {
	r, c := X.Dims()
	if c != 1 {
		return 0, nil, taxiErrors.NewDimensionError(op, 1, c, 1)
	}
	loc, err := t.location()
	if err != nil {
		return 0, nil, err
	}
	for i := 0; i < r; i++ {
		if v := X.At(i, 0); math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil, taxiErrors.NewTimestampError(op, i, strconv.FormatFloat(v, 'f', -1, 64), nil)
		}
	}
	return r, loc, nil
}

// Fit validates the timestamp column and the timezone.
func (t *TimeFeaturesEncoder) Fit(X mat.Matrix) error {
	r, _, err := t.validate("TimeFeaturesEncoder.Fit", X)
	if err != nil {
		return err
	}
	if t.State == nil {
		t.State = model.NewStateManager()
	}
	t.State.SetDimensions(1, r)
	t.State.SetFitted()
	return nil
}

// Transform returns an n×4 matrix of (dow, hour, month, year).
func (t *TimeFeaturesEncoder) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "TimeFeaturesEncoder.Transform")
	r, loc, err := t.validate("TimeFeaturesEncoder.Transform", X)
	if err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	out := mat.NewDense(r, len(TimeFeatureNames), nil)
	parallel.ParallelizeWithThreshold(r, t.Threshold, func(start, end int) {
		for i := start; i < end; i++ {
			ts := UnixToTime(X.At(i, 0)).In(loc)
			row := out.RawRowView(i)
			row[0] = float64((int(ts.Weekday()) + 6) % 7)
			row[1] = float64(ts.Hour())
			row[2] = float64(ts.Month())
			row[3] = float64(ts.Year())
		}
	})
	return out, nil
}

// FitTransform validates X and returns its calendar features.
func (t *TimeFeaturesEncoder) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := t.Fit(X); err != nil {
		return nil, err
	}
	return t.Transform(X)
}

// UnixToTime converts fractional Unix seconds to a UTC time.
func UnixToTime(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// TimeToUnix converts t to fractional Unix seconds.
func TimeToUnix(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
