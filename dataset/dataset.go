// Package dataset loads, cleans and splits the NYC taxi-fare training data.
//
// Rows are read into a *frame.Frame with one float64 column per numeric CSV
// column. pickup_datetime is stored as Unix seconds (UTC); the string key
// column is not kept.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

// DefaultURL is the public training CSV.
const DefaultURL = "https://wagon-public-datasets.s3.amazonaws.com/taxi-fare-train.csv"

// Column names of the training CSV.
const (
	KeyColumn        = "key"
	FareAmount       = "fare_amount"
	PickupDatetime   = "pickup_datetime"
	PickupLongitude  = "pickup_longitude"
	PickupLatitude   = "pickup_latitude"
	DropoffLongitude = "dropoff_longitude"
	DropoffLatitude  = "dropoff_latitude"
	PassengerCount   = "passenger_count"
)

const (
	defaultHTTPTimeout     = 5 * time.Minute
	contextCheckInterval   = 1024
	timestampFormatWithTZ  = "2006-01-02 15:04:05 MST"
	timestampFormatNoZone  = "2006-01-02 15:04:05"
	timestampFormatISONoTZ = "2006-01-02T15:04:05"
)

// CoordinateColumns are the inputs of the distance feature, in the order
// DistanceTransformer expects them.
var CoordinateColumns = []string{PickupLatitude, PickupLongitude, DropoffLatitude, DropoffLongitude}

// TripColumns are the model inputs; they must be present in every file.
var TripColumns = []string{PickupDatetime, PickupLongitude, PickupLatitude, DropoffLongitude, DropoffLatitude}

// RequiredColumns must be present in every training file.
var RequiredColumns = append([]string{FareAmount}, TripColumns...)

// HTTPClient is used for http(s) sources.
var HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}

// ParseTimestamp parses pickup timestamps such as "2009-06-15 17:26:21 UTC".
// Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{timestampFormatWithTZ, time.RFC3339, timestampFormatNoZone, timestampFormatISONoTZ} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	_, err := time.Parse(timestampFormatWithTZ, s)
	return time.Time{}, err
}

// Open returns a reader for a local path or an http(s) URL.
func Open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: build request for %s", source)
		}
		resp, err := HTTPClient.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: download %s", source)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, errors.Newf("dataset: download %s: unexpected status %s", source, resp.Status)
		}
		return resp.Body, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	return f, nil
}

// LoadCSV reads the header and at most nrows data rows (all rows when
// nrows <= 0) from source. Empty numeric cells become NaN so Clean can drop
// them; an unparseable number or timestamp fails the load with its line.
func LoadCSV(ctx context.Context, source string, nrows int) (*frame.Frame, error) {
	return load(ctx, source, nrows, RequiredColumns)
}

// LoadTrips is LoadCSV for inference inputs: fare_amount may be absent.
func LoadTrips(ctx context.Context, source string, nrows int) (*frame.Frame, error) {
	return load(ctx, source, nrows, TripColumns)
}

func load(ctx context.Context, source string, nrows int, required []string) (*frame.Frame, error) {
	logger := log.GetLoggerWithName("dataset")
	start := time.Now()

	rc, err := Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	f, err := readCSV(ctx, rc, nrows, required)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: load %s", source)
	}

	r, c := f.Dims()
	logger.Info("Dataset loaded",
		log.PathKey, source,
		log.SamplesKey, r,
		log.FeaturesKey, c,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return f, nil
}

// ReadCSV parses training rows from r. See LoadCSV.
func ReadCSV(ctx context.Context, r io.Reader, nrows int) (*frame.Frame, error) {
	return readCSV(ctx, r, nrows, RequiredColumns)
}

// ReadTrips parses inference rows from r. See LoadTrips.
func ReadTrips(ctx context.Context, r io.Reader, nrows int) (*frame.Frame, error) {
	return readCSV(ctx, r, nrows, TripColumns)
}

func readCSV(ctx context.Context, r io.Reader, nrows int, required []string) (*frame.Frame, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(errors.ErrEmptyData, "ReadCSV: missing header")
	}
	if err != nil {
		return nil, errors.Wrap(err, "ReadCSV: header")
	}

	var columns []string
	var sourceIdx []int
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == KeyColumn || name == "" {
			continue
		}
		columns = append(columns, name)
		sourceIdx = append(sourceIdx, i)
	}

	present := make(map[string]bool, len(columns))
	for _, name := range columns {
		present[name] = true
	}
	var missing []string
	for _, name := range required {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewColumnError("ReadCSV", missing, columns)
	}

	var data []float64
	rows := 0
	for nrows <= 0 || rows < nrows {
		if rows%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "ReadCSV")
			}
		}

		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "ReadCSV")
		}
		line, _ := reader.FieldPos(0)

		for k, i := range sourceIdx {
			cell := strings.TrimSpace(rec[i])
			if columns[k] == PickupDatetime {
				if cell == "" {
					data = append(data, math.NaN())
					continue
				}
				ts, err := ParseTimestamp(cell)
				if err != nil {
					return nil, errors.NewTimestampError("ReadCSV", line, cell, err)
				}
				data = append(data, float64(ts.Unix()))
				continue
			}

			if cell == "" {
				data = append(data, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.NewValueError("ReadCSV",
					fmt.Sprintf("line %d: column %s: cannot parse %q as a number", line, columns[k], cell))
			}
			data = append(data, v)
		}
		rows++
	}

	if rows == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "ReadCSV: no data rows")
	}
	return frame.New(columns, data)
}
