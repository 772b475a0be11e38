// Package trainer builds, fits, evaluates and persists the taxi-fare model.
//
// The model is one pipeline:
//
//	preproc (ColumnTransformer, remainder dropped)
//	├── distance: 4 coordinate columns → DistanceTransformer → StandardScaler
//	└── time:     pickup_datetime     → TimeFeaturesEncoder → OneHotEncoder
//	linear_model (LinearRegression)
//
// A Trainer moves through the stages Unconfigured, PipelineBuilt, Fitted,
// Evaluated and Saved. Evaluate and Save need a fitted pipeline; calling
// them earlier returns a PreconditionError. Evaluation is not required
// before saving.
package trainer

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/dataset"
	"github.com/ezoic/taxifare/linear"
	"github.com/ezoic/taxifare/metrics"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
	"github.com/ezoic/taxifare/preprocessing"
	"github.com/ezoic/taxifare/report"
	"github.com/ezoic/taxifare/sklearn/compose"
	"github.com/ezoic/taxifare/sklearn/pipeline"
)

// Names of the tracked param and metrics.
const (
	ParamModel  = "Params"
	ModelLinear = "linear"
	MetricRMSE  = "RMSE"
	MetricMAE   = "MAE"
	MetricR2    = "R2"
)

// DefaultArtifactPath is where Save writes the model when no path is configured.
const DefaultArtifactPath = "model.gob"

// Stage is the lifecycle stage of a Trainer.
type Stage int

// Trainer stages, in order.
const (
	StageUnconfigured Stage = iota
	StagePipelineBuilt
	StageFitted
	StageEvaluated
	StageSaved
)

func (s Stage) String() string {
	switch s {
	case StageUnconfigured:
		return "unconfigured"
	case StagePipelineBuilt:
		return "pipeline_built"
	case StageFitted:
		return "fitted"
	case StageEvaluated:
		return "evaluated"
	case StageSaved:
		return "saved"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Tracker receives the params and metrics of a training run.
// *tracking.ExperimentLogger satisfies it.
type Tracker interface {
	LogParam(ctx context.Context, key, value string) error
	LogMetric(ctx context.Context, key string, value float64) error
}

// Config tunes a Trainer.
type Config struct {
	// Timezone is the zone pickup times are converted to before encoding.
	Timezone string
	// ArtifactPath is where Save writes the model (default model.gob).
	ArtifactPath string
	// PlotPath, when set, makes Evaluate write a predicted-vs-actual chart.
	PlotPath string
	// Verbose logs per-step fit timings at info level.
	Verbose bool
}

// Trainer owns the training data and the pipeline fitted on it. It is not
// safe for concurrent use.
type Trainer struct {
	X *frame.Frame
	Y *mat.VecDense

	cfg      Config
	tracker  Tracker
	pipeline *pipeline.Pipeline
	stage    Stage
	report   metrics.Report

	logger log.Logger
}

// New creates a Trainer for the training features X and target y. tracker
// may be nil, in which case nothing is tracked.
func New(X *frame.Frame, y *mat.VecDense, tracker Tracker, cfg Config) (*Trainer, error) {
	if X == nil || y == nil {
		return nil, taxiErrors.Wrap(taxiErrors.ErrEmptyData, "trainer.New")
	}
	rows, _ := X.Dims()
	if y.Len() != rows {
		return nil, taxiErrors.NewDimensionError("trainer.New", rows, y.Len(), 0)
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = DefaultArtifactPath
	}
	return &Trainer{X: X, Y: y, cfg: cfg, tracker: tracker}, nil
}

func (t *Trainer) log() log.Logger {
	if t.logger == nil {
		t.logger = log.GetLoggerWithName("trainer").With(
			log.ModelNameKey, "TaxiFarePipeline",
		)
	}
	return t.logger
}

// Stage returns the current lifecycle stage.
func (t *Trainer) Stage() Stage {
	return t.stage
}

// Pipeline returns the pipeline, or nil before SetPipeline or Run.
func (t *Trainer) Pipeline() *pipeline.Pipeline {
	return t.pipeline
}

// Report returns the metrics of the last Evaluate.
func (t *Trainer) Report() metrics.Report {
	return t.report
}

// BuildPipeline returns the unfitted fare pipeline for pickup times in
// timezone.
func BuildPipeline(timezone string) *pipeline.Pipeline {
	distPipe := pipeline.New(
		pipeline.Step{Name: "dist_trans", Estimator: preprocessing.NewDistanceTransformer()},
		pipeline.Step{Name: "stdscaler", Estimator: preprocessing.NewStandardScalerDefault()},
	)
	timePipe := pipeline.New(
		pipeline.Step{Name: "time_enc", Estimator: preprocessing.NewTimeFeaturesEncoder(timezone)},
		pipeline.Step{Name: "ohe", Estimator: preprocessing.NewOneHotEncoder()},
	)

	preproc := compose.NewColumnTransformer(
		compose.Branch{Name: "distance", Transformer: distPipe, Columns: dataset.CoordinateColumns},
		compose.Branch{Name: "time", Transformer: timePipe, Columns: []string{dataset.PickupDatetime}},
	)
	preproc.Remainder = compose.Drop

	return pipeline.New(
		pipeline.Step{Name: "preproc", Estimator: preproc},
		pipeline.Step{Name: "linear_model", Estimator: linear.NewLinearRegression()},
	)
}

// SetPipeline builds a fresh, unfitted pipeline.
func (t *Trainer) SetPipeline() {
	t.pipeline = BuildPipeline(t.cfg.Timezone)
	t.pipeline.Verbose = t.cfg.Verbose
	t.stage = StagePipelineBuilt
	t.log().Debug("Pipeline built", log.StageKey, t.stage.String())
}

// Run builds the pipeline if needed, fits it on the training data and logs
// the model param. Calling Run again refits from scratch.
func (t *Trainer) Run(ctx context.Context) (err error) {
	defer taxiErrors.Recover(&err, "Trainer.Run")
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.pipeline == nil || t.stage != StagePipelineBuilt {
		t.SetPipeline()
	}

	rows, cols := t.X.Dims()
	start := time.Now()
	t.log().Info("Training started",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
	)

	if err := t.pipeline.Fit(t.X, t.Y); err != nil {
		t.stage = StagePipelineBuilt
		return taxiErrors.Wrap(err, "trainer: fit pipeline")
	}
	t.stage = StageFitted
	t.log().Info("Training completed",
		log.StageKey, t.stage.String(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	if t.tracker != nil {
		if err := t.tracker.LogParam(ctx, ParamModel, ModelLinear); err != nil {
			return taxiErrors.Wrap(err, "trainer: log param")
		}
	}
	return nil
}

func (t *Trainer) requireFitted(op string) error {
	if t.stage < StageFitted || t.pipeline == nil {
		return taxiErrors.NewPreconditionError(op, StageFitted.String(), t.stage.String())
	}
	return nil
}

// Predict returns fare predictions for X as an (n, 1) matrix.
func (t *Trainer) Predict(X *frame.Frame) (mat.Matrix, error) {
	if err := t.requireFitted("Trainer.Predict"); err != nil {
		return nil, err
	}
	return t.pipeline.Predict(X)
}

// Evaluate predicts on the held-out data, logs RMSE (plus MAE and R²
// when defined) and returns the RMSE.
func (t *Trainer) Evaluate(ctx context.Context, XTest *frame.Frame, yTest *mat.VecDense) (_ float64, err error) {
	defer taxiErrors.Recover(&err, "Trainer.Evaluate")
	if err := t.requireFitted("Trainer.Evaluate"); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if XTest == nil || yTest == nil {
		return 0, taxiErrors.Wrap(taxiErrors.ErrEmptyData, "Trainer.Evaluate")
	}

	yPred, err := t.pipeline.Predict(XTest)
	if err != nil {
		return 0, taxiErrors.Wrap(err, "trainer: predict")
	}
	rep, err := metrics.Evaluate(yTest, yPred)
	if err != nil {
		return 0, err
	}
	t.report = rep

	t.log().Info("Evaluation completed",
		log.PhaseKey, log.PhaseValidation,
		log.SamplesKey, rep.Samples,
		log.RMSEKey, rep.RMSE,
		log.R2ScoreKey, rep.R2,
	)

	if t.tracker != nil {
		if err := t.tracker.LogMetric(ctx, MetricRMSE, rep.RMSE); err != nil {
			return rep.RMSE, taxiErrors.Wrap(err, "trainer: log metric")
		}
		if err := t.tracker.LogMetric(ctx, MetricMAE, rep.MAE); err != nil {
			return rep.RMSE, taxiErrors.Wrap(err, "trainer: log metric")
		}
		if !math.IsNaN(rep.R2) {
			if err := t.tracker.LogMetric(ctx, MetricR2, rep.R2); err != nil {
				return rep.RMSE, taxiErrors.Wrap(err, "trainer: log metric")
			}
		}
	}

	if t.cfg.PlotPath != "" {
		if err := report.NewPredictionPlot().Save(t.cfg.PlotPath, yTest, yPred); err != nil {
			return rep.RMSE, err
		}
	}

	if t.stage < StageEvaluated {
		t.stage = StageEvaluated
	}
	return rep.RMSE, nil
}

// Save writes the fitted pipeline to the configured artifact path and
// returns that path. Nothing is written before Run.
func (t *Trainer) Save(ctx context.Context) (string, error) {
	if err := t.requireFitted("Trainer.Save"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := t.cfg.ArtifactPath
	start := time.Now()
	if err := model.SaveModel(t.pipeline, path); err != nil {
		return "", taxiErrors.Wrap(err, "trainer: save model")
	}
	t.stage = StageSaved
	t.log().Info("Model saved",
		log.OperationKey, log.OperationSave,
		log.PathKey, path,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return path, nil
}

// LoadPipeline reads a pipeline written by Save. The result is ready to
// Predict.
func LoadPipeline(path string) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	if err := model.LoadModel(&p, path); err != nil {
		return nil, taxiErrors.Wrapf(err, "trainer: load %s", path)
	}
	if !p.IsFitted() {
		return nil, taxiErrors.NewNotFittedError("Pipeline", "LoadPipeline")
	}
	return &p, nil
}
