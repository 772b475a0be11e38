// Standard attribute keys for training, preprocessing and tracking logs.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so that log records from different components can be
// filtered consistently.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of estimator or transformer.
	// Examples: "LinearRegression", "StandardScaler", "ColumnTransformer"
	ModelNameKey = "model.name"

	// OperationKey specifies the machine learning operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	// Examples: "linear", "preprocessing", "tracking"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	// Examples: "training", "inference", "validation", "preprocessing"
	PhaseKey = "ml.phase"

	// StepKey names a pipeline step or column-transformer branch.
	StepKey = "pipeline.step"

	// StageKey records the trainer lifecycle stage.
	StageKey = "trainer.stage"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ColumnsKey lists column names involved in an operation.
	ColumnsKey = "data.columns"

	// DroppedKey counts rows or columns removed by an operation.
	DroppedKey = "data.dropped"

	// PathKey records a file system path or URL.
	PathKey = "io.path"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// RMSEKey records root-mean-squared error.
	RMSEKey = "metrics.rmse"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// RankKey records the numerical rank of a design matrix.
	RankKey = "linalg.rank"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"
)

// Experiment Tracking
const (
	// ExperimentKey records the experiment name.
	ExperimentKey = "tracking.experiment"

	// ExperimentIDKey records the resolved experiment identifier.
	ExperimentIDKey = "tracking.experiment_id"

	// RunIDKey records the tracking run identifier.
	RunIDKey = "tracking.run_id"

	// TrackingURIKey records the tracking backend location.
	TrackingURIKey = "tracking.uri"

	// AttemptKey records the retry attempt number.
	AttemptKey = "tracking.attempt"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"
)

// Standard attribute value constants for common operations.
const (
	// Standard ML operations
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationSave         = "save"

	// Standard ML phases
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
