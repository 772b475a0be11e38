// Package tracking records training runs in an experiment-tracking backend.
//
// Two backends implement Client: an MLflow REST client and a local file
// store using MLflow's mlruns layout. ExperimentLogger sits on top of a
// Client, resolving the experiment and run lazily and caching them once
// they exist.
package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/ezoic/taxifare/pkg/errors"
)

// Backend names accepted by NewClient.
const (
	BackendMLflow = "mlflow"
	BackendFile   = "file"
)

var (
	// ErrAlreadyExists is matched when an experiment with the requested
	// name is already registered.
	ErrAlreadyExists = errors.New("tracking: resource already exists")

	// ErrNotFound is matched when a lookup finds nothing.
	ErrNotFound = errors.New("tracking: resource does not exist")
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

// Run statuses, named as MLflow names them.
const (
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
	RunKilled   RunStatus = "KILLED"
)

// Experiment describes a registered experiment.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
	LifecycleStage   string
}

// Run describes a tracking run.
type Run struct {
	ID           string
	ExperimentID string
	Status       RunStatus
	StartTime    int64
	EndTime      int64
}

// Client is the contract every tracking backend implements. Times are Unix
// milliseconds.
type Client interface {
	CreateExperiment(ctx context.Context, name string) (string, error)
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	CreateRun(ctx context.Context, experimentID string, startTime int64) (*Run, error)
	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID, key string, value float64, timestamp, step int64) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, endTime int64) error
}

// Config selects and tunes the tracking backend.
type Config struct {
	// Backend is "mlflow" or "file".
	Backend string
	// URI is the MLflow base URL, or the mlruns directory for the file store.
	URI string
	// Experiment is the experiment name runs are logged under.
	Experiment string
	// Retries is how many times a failed logging call is retried.
	Retries int
	// RetryDelay is the wait before the first retry; later retries wait
	// proportionally longer.
	RetryDelay time.Duration
	// Timeout bounds each HTTP request of the MLflow client.
	Timeout time.Duration
	// Strict makes logging failures fatal instead of warnings.
	Strict bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendMLflow, BackendFile:
	default:
		return errors.NewValidationError("tracking.backend", "must be one of [mlflow, file]", c.Backend)
	}
	if strings.TrimSpace(c.URI) == "" {
		return errors.NewValidationError("tracking.uri", "must not be empty", c.URI)
	}
	if strings.TrimSpace(c.Experiment) == "" {
		return errors.NewValidationError("tracking.experiment", "must not be empty", c.Experiment)
	}
	if c.Retries < 0 {
		return errors.NewValidationError("tracking.retries", "must be non-negative", c.Retries)
	}
	if c.RetryDelay < 0 {
		return errors.NewValidationError("tracking.retry_delay", "must be non-negative", c.RetryDelay)
	}
	return nil
}

// NewClient builds the backend named by cfg.Backend.
func NewClient(cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendFile:
		return NewFileStore(cfg.URI)
	default:
		return NewMLflowClient(cfg.URI, cfg.Timeout)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
