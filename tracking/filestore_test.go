package tracking_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/tracking"
)

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "mlruns")
	store, err := tracking.NewFileStore("file://" + root)
	require.NoError(t, err)

	id, err := store.CreateExperiment(ctx, experiment)
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	other, err := store.CreateExperiment(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "2", other)

	var meta map[string]any
	raw, err := os.ReadFile(filepath.Join(root, "1", "meta.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, experiment, meta["name"])
	assert.Equal(t, "active", meta["lifecycle_stage"])

	run, err := store.CreateRun(ctx, id, 1700000000000)
	require.NoError(t, err)
	assert.Len(t, run.ID, 32)
	assert.NotContains(t, run.ID, "-")

	require.NoError(t, store.LogParam(ctx, run.ID, "Params", "linear"))
	require.NoError(t, store.LogMetric(ctx, run.ID, "RMSE", 3.5, 1700000000100, 0))
	require.NoError(t, store.LogMetric(ctx, run.ID, "RMSE", 3.25, 1700000000200, 1))

	runDir := filepath.Join(root, id, run.ID)
	param, err := os.ReadFile(filepath.Join(runDir, "params", "Params"))
	require.NoError(t, err)
	assert.Equal(t, "linear", string(param))

	metric, err := os.ReadFile(filepath.Join(runDir, "metrics", "RMSE"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000100 3.5 0", "1700000000200 3.25 1"},
		strings.Split(strings.TrimSpace(string(metric)), "\n"))

	require.NoError(t, store.UpdateRun(ctx, run.ID, tracking.RunFinished, 1700000000300))
	raw, err = os.ReadFile(filepath.Join(runDir, "meta.yaml"))
	require.NoError(t, err)
	meta = nil
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, "FINISHED", meta["status"])
	assert.Equal(t, 1700000000300, meta["end_time"])
	assert.Equal(t, run.ID, meta["run_uuid"])
}

func TestFileStoreExperimentExists(t *testing.T) {
	ctx := context.Background()
	store, err := tracking.NewFileStore(t.TempDir())
	require.NoError(t, err)

	id, err := store.CreateExperiment(ctx, experiment)
	require.NoError(t, err)

	_, err = store.CreateExperiment(ctx, experiment)
	assert.True(t, taxiErrors.Is(err, tracking.ErrAlreadyExists))

	exp, err := store.GetExperimentByName(ctx, experiment)
	require.NoError(t, err)
	assert.Equal(t, id, exp.ID)

	_, err = store.GetExperimentByName(ctx, "missing")
	assert.True(t, taxiErrors.Is(err, tracking.ErrNotFound))

	// A second store on the same directory sees the same experiment.
	reopened, err := tracking.NewFileStore(store.Root())
	require.NoError(t, err)
	resolved, err := tracking.ResolveExperiment(ctx, reopened, experiment)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	store, err := tracking.NewFileStore(t.TempDir())
	require.NoError(t, err)
	id, err := store.CreateExperiment(ctx, experiment)
	require.NoError(t, err)
	run, err := store.CreateRun(ctx, id, 0)
	require.NoError(t, err)

	_, err = store.CreateRun(ctx, "99", 0)
	assert.True(t, taxiErrors.Is(err, tracking.ErrNotFound))

	err = store.LogMetric(ctx, "nope", "RMSE", 1, 0, 0)
	assert.True(t, taxiErrors.Is(err, tracking.ErrNotFound))

	var valErr *taxiErrors.ValidationError
	err = store.LogParam(ctx, run.ID, "../escape", "x")
	assert.True(t, taxiErrors.As(err, &valErr))

	require.NoError(t, store.LogParam(ctx, run.ID, "Params", "linear"))
	require.NoError(t, store.LogParam(ctx, run.ID, "Params", "linear"))
	err = store.LogParam(ctx, run.ID, "Params", "ridge")
	assert.True(t, taxiErrors.As(err, &valErr))

	_, err = tracking.NewFileStore("")
	assert.True(t, taxiErrors.As(err, &valErr))
}

func TestExperimentLoggerOverFileStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Backend = tracking.BackendFile
	cfg.URI = t.TempDir()

	logger := tracking.NewExperimentLogger(cfg)
	require.NoError(t, logger.LogParam(ctx, "Params", "linear"))
	require.NoError(t, logger.LogMetric(ctx, "RMSE", 2.75))
	require.NoError(t, logger.EndRun(ctx, tracking.RunFinished))

	expID, err := logger.ExperimentID(ctx)
	require.NoError(t, err)
	runID, err := logger.RunID(ctx)
	require.NoError(t, err)

	metric, err := os.ReadFile(filepath.Join(cfg.URI, expID, runID, "metrics", "RMSE"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(metric)), " 2.75 0"))
}
