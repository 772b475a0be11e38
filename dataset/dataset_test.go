package dataset_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/taxifare/dataset"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
)

const sampleCSV = `key,fare_amount,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count
2009-06-15 17:26:21.0000001,4.5,2009-06-15 17:26:21 UTC,-73.844311,40.721319,-73.84161,40.712278,1
2010-01-05 16:52:16.0000002,16.9,2010-01-05 16:52:16 UTC,-74.016048,40.711303,-73.979268,40.782004,1
2011-08-18 00:35:00.00000049,5.7,2011-08-18 00:35:00 UTC,-73.982738,40.76127,-73.991242,40.750562,2
2012-04-21 04:30:42.0000001,7.7,2012-04-21 04:30:42 UTC,-73.98713,40.733143,-73.991567,40.758092,1
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, sampleCSV)

	f, err := dataset.LoadCSV(context.Background(), path, 0)
	require.NoError(t, err)

	r, c := f.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 7, c)
	assert.False(t, f.HasColumn(dataset.KeyColumn))

	fares, err := f.Column(dataset.FareAmount)
	require.NoError(t, err)
	assert.Equal(t, []float64{4.5, 16.9, 5.7, 7.7}, fares)

	ts, err := f.Column(dataset.PickupDatetime)
	require.NoError(t, err)
	want := time.Date(2009, 6, 15, 17, 26, 21, 0, time.UTC).Unix()
	assert.Equal(t, float64(want), ts[0])
}

func TestLoadCSVRespectsNRows(t *testing.T) {
	path := writeCSV(t, sampleCSV)

	f, err := dataset.LoadCSV(context.Background(), path, 2)
	require.NoError(t, err)

	r, _ := f.Dims()
	assert.Equal(t, 2, r)
}

func TestLoadCSVEmptyCellsBecomeNaN(t *testing.T) {
	content := "key,fare_amount,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count\n" +
		"a,,2009-06-15 17:26:21 UTC,-73.84,40.72,-73.84,40.71,\n"
	path := writeCSV(t, content)

	f, err := dataset.LoadCSV(context.Background(), path, 0)
	require.NoError(t, err)

	fare, err := f.Column(dataset.FareAmount)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(fare[0]))
}

func TestLoadCSVErrors(t *testing.T) {
	header := "key,fare_amount,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count\n"

	t.Run("missing file", func(t *testing.T) {
		_, err := dataset.LoadCSV(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open file")
	})

	t.Run("bad timestamp", func(t *testing.T) {
		path := writeCSV(t, header+"a,4.5,yesterday,-73.84,40.72,-73.84,40.71,1\n")
		_, err := dataset.LoadCSV(context.Background(), path, 0)
		require.Error(t, err)

		var tsErr *taxiErrors.TimestampError
		require.True(t, taxiErrors.As(err, &tsErr))
		assert.Equal(t, 2, tsErr.Row)
		assert.Equal(t, "yesterday", tsErr.Value)
	})

	t.Run("bad number", func(t *testing.T) {
		path := writeCSV(t, header+"a,cheap,2009-06-15 17:26:21 UTC,-73.84,40.72,-73.84,40.71,1\n")
		_, err := dataset.LoadCSV(context.Background(), path, 0)
		require.Error(t, err)

		var valErr *taxiErrors.ValueError
		require.True(t, taxiErrors.As(err, &valErr))
		assert.Contains(t, valErr.Message, "line 2")
		assert.Contains(t, valErr.Message, dataset.FareAmount)
	})

	t.Run("missing required column", func(t *testing.T) {
		path := writeCSV(t, "key,fare_amount,pickup_datetime\na,4.5,2009-06-15 17:26:21 UTC\n")
		_, err := dataset.LoadCSV(context.Background(), path, 0)
		require.Error(t, err)

		var colErr *taxiErrors.ColumnError
		require.True(t, taxiErrors.As(err, &colErr))
		assert.Len(t, colErr.Missing, 4)
	})

	t.Run("header only", func(t *testing.T) {
		path := writeCSV(t, header)
		_, err := dataset.LoadCSV(context.Background(), path, 0)
		assert.True(t, taxiErrors.Is(err, taxiErrors.ErrEmptyData))
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := writeCSV(t, sampleCSV)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := dataset.LoadCSV(ctx, path, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadTripsWithoutFare(t *testing.T) {
	content := `key,pickup_datetime,pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,passenger_count
a,2015-01-27 13:08:24 UTC,-73.973320,40.763805,-73.981430,40.743835,1
b,2015-01-27 13:08:24 UTC,-73.986862,40.719383,-73.998886,40.739201,1
`
	path := writeCSV(t, content)

	_, err := dataset.LoadCSV(context.Background(), path, 0)
	var colErr *taxiErrors.ColumnError
	require.True(t, taxiErrors.As(err, &colErr))
	assert.Equal(t, []string{dataset.FareAmount}, colErr.Missing)

	f, err := dataset.LoadTrips(context.Background(), path, 0)
	require.NoError(t, err)
	r, _ := f.Dims()
	assert.Equal(t, 2, r)
	assert.NotContains(t, f.ColumnNames(), dataset.FareAmount)

	f, err = dataset.ReadTrips(context.Background(), strings.NewReader(sampleCSV), 0)
	require.NoError(t, err)
	assert.Contains(t, f.ColumnNames(), dataset.FareAmount)
}

func TestLoadCSVOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/train.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	f, err := dataset.LoadCSV(context.Background(), srv.URL+"/train.csv", 3)
	require.NoError(t, err)
	r, _ := f.Dims()
	assert.Equal(t, 3, r)

	_, err = dataset.LoadCSV(context.Background(), srv.URL+"/missing.csv", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2013, 7, 2, 19, 54, 0, 0, time.UTC)
	for _, s := range []string{
		"2013-07-02 19:54:00 UTC",
		"2013-07-02 19:54:00",
		"2013-07-02T19:54:00Z",
		"2013-07-02T15:54:00-04:00",
		" 2013-07-02T19:54:00 ",
	} {
		got, err := dataset.ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	_, err := dataset.ParseTimestamp("07/02/2013")
	assert.Error(t, err)
}

func TestReadCSVStripsBOM(t *testing.T) {
	content := "\ufeff" + sampleCSV
	f, err := dataset.ReadCSV(context.Background(), strings.NewReader(content), 0)
	require.NoError(t, err)
	assert.False(t, f.HasColumn("\ufeffkey"))
	assert.False(t, f.HasColumn(dataset.KeyColumn))
}
