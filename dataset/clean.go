package dataset

import (
	"math"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

// Bounds of the NYC area and of plausible fares. Latitude and longitude
// bounds are inclusive; passenger_count is kept on [MinPassengers, MaxPassengers).
const (
	MinLatitude         = 40.0
	MaxLatitude         = 42.0
	MinPickupLongitude  = -74.3
	MinDropoffLongitude = -74.0
	MaxLongitude        = -72.9
	MinFare             = 0.0
	MaxFare             = 4000.0
	MinPassengers       = 0.0
	MaxPassengers       = 8.0
)

// Clean drops rows with missing values, zero coordinates, implausible fares
// or passenger counts, and trips outside the NYC bounding box. Fare and
// passenger rules apply only when the column is present, so Clean can also
// be used on inference inputs.
func Clean(f *frame.Frame) (*frame.Frame, error) {
	if f == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "Clean")
	}

	idx := make(map[string]int, len(RequiredColumns)+1)
	var missing []string
	for _, name := range CoordinateColumns {
		j, ok := f.ColumnIndex(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		idx[name] = j
	}
	if len(missing) > 0 {
		return nil, errors.NewColumnError("Clean", missing, f.ColumnNames())
	}

	fareIdx, hasFare := f.ColumnIndex(FareAmount)
	paxIdx, hasPax := f.ColumnIndex(PassengerCount)

	pickLat, pickLon := idx[PickupLatitude], idx[PickupLongitude]
	dropLat, dropLon := idx[DropoffLatitude], idx[DropoffLongitude]

	out, dropped, err := f.Filter(func(_ int, row []float64) bool {
		for _, v := range row {
			if math.IsNaN(v) {
				return false
			}
		}
		if row[pickLat] == 0 && row[pickLon] == 0 {
			return false
		}
		if row[dropLat] == 0 && row[dropLon] == 0 {
			return false
		}
		if hasFare && (row[fareIdx] < MinFare || row[fareIdx] > MaxFare) {
			return false
		}
		if hasPax && (row[paxIdx] < MinPassengers || row[paxIdx] >= MaxPassengers) {
			return false
		}
		return within(row[pickLat], MinLatitude, MaxLatitude) &&
			within(row[pickLon], MinPickupLongitude, MaxLongitude) &&
			within(row[dropLat], MinLatitude, MaxLatitude) &&
			within(row[dropLon], MinDropoffLongitude, MaxLongitude)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Clean: all %d rows dropped", dropped)
	}

	r, _ := out.Dims()
	log.GetLoggerWithName("dataset").Info("Dataset cleaned",
		log.SamplesKey, r,
		log.DroppedKey, dropped,
	)
	return out, nil
}

func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// DropIncomplete drops rows with a missing value in any of columns. It is
// the inference counterpart of Clean: trips are kept even when they fall
// outside the training bounds.
func DropIncomplete(f *frame.Frame, columns ...string) (*frame.Frame, error) {
	if f == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "DropIncomplete")
	}
	idx := make([]int, 0, len(columns))
	var missing []string
	for _, name := range columns {
		j, ok := f.ColumnIndex(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		idx = append(idx, j)
	}
	if len(missing) > 0 {
		return nil, errors.NewColumnError("DropIncomplete", missing, f.ColumnNames())
	}

	out, dropped, err := f.Filter(func(_ int, row []float64) bool {
		for _, j := range idx {
			if math.IsNaN(row[j]) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "DropIncomplete: all %d rows dropped", dropped)
	}
	if dropped > 0 {
		log.GetLoggerWithName("dataset").Warn("Incomplete rows dropped",
			log.DroppedKey, dropped,
		)
	}
	return out, nil
}
