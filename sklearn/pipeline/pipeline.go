// Package pipeline implements scikit-learn compatible Pipeline for chaining transformers and estimators.
// This provides the same API as sklearn.pipeline.Pipeline.
package pipeline

import (
	"encoding/gob"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

func init() {
	gob.Register(&Pipeline{})
}

// Step represents a single step in the pipeline.
// Each step is a tuple of (name, transformer/estimator).
type Step struct {
	Name      string      // Name of this step (for identification)
	Estimator interface{} // Can be Transformer or Estimator
}

// Pipeline chains multiple transforms and optionally a final estimator.
// Intermediate steps must be transformers (i.e., have a transform method).
// The final step can be a transformer or an estimator.
//
// Fields are exported so a fitted pipeline can be persisted with
// encoding/gob; the concrete step types must be gob-registered.
type Pipeline struct {
	State *model.StateManager

	// Steps is the list of (name, transform/estimator) tuples.
	Steps []Step

	// Verbose logs the time elapsed while fitting each step at info level.
	Verbose bool

	logger log.Logger
}

// New creates a new Pipeline with the given steps.
// This is equivalent to sklearn.pipeline.Pipeline(steps)
func New(steps ...Step) *Pipeline {
	return &Pipeline{
		State: model.NewStateManager(),
		Steps: steps,
	}
}

// NewPipeline is an alias for New to match sklearn naming conventions
func NewPipeline(steps ...Step) *Pipeline {
	return New(steps...)
}

// Make is a convenience function similar to sklearn.pipeline.make_pipeline
// It automatically generates names for the steps.
func Make(estimators ...interface{}) *Pipeline {
	steps := make([]Step, len(estimators))
	for i, estimator := range estimators {
		steps[i] = Step{Name: defaultStepName(estimator, i), Estimator: estimator}
	}
	return New(steps...)
}

func defaultStepName(estimator interface{}, i int) string {
	name := fmt.Sprintf("%T", estimator)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" || name == "<nil>" {
		return fmt.Sprintf("step%d", i+1)
	}
	return strings.ToLower(name)
}

func (p *Pipeline) log() log.Logger {
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("Pipeline")
	}
	return p.logger
}

// IsFitted reports whether the pipeline has been fitted.
func (p *Pipeline) IsFitted() bool {
	return p.State.IsFitted()
}

func (p *Pipeline) markFitted(nFeatures, nSamples int) {
	if p.State == nil {
		p.State = model.NewStateManager()
	}
	p.State.SetDimensions(nFeatures, nSamples)
	p.State.SetFitted()
}

func (p *Pipeline) logStep(name string, start time.Time) {
	fields := []any{log.StepKey, name, log.DurationMsKey, time.Since(start).Milliseconds()}
	if p.Verbose {
		p.log().Info("Pipeline step fitted", fields...)
		return
	}
	p.log().Debug("Pipeline step fitted", fields...)
}

// fitTransformStep fits one intermediate step and returns its output on X.
func fitTransformStep(step Step, X, y mat.Matrix) (mat.Matrix, error) {
	switch est := step.Estimator.(type) {
	case model.Transformer:
		return est.FitTransform(X)
	case model.SupervisedTransformer:
		return est.FitTransform(X, y)
	default:
		return nil, errors.NewValidationError(
			"pipeline step",
			"all intermediate steps must be transformers",
			step.Name,
		)
	}
}

// Fit trains the pipeline.
// Fit all the transformers one after the other and transform the
// data, then fit the final estimator.
func (p *Pipeline) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "Pipeline.Fit")
	if len(p.Steps) == 0 {
		return errors.New("pipeline has no steps")
	}

	nSamples, nFeatures := X.Dims()
	Xt := X

	for _, step := range p.Steps[:len(p.Steps)-1] {
		start := time.Now()
		Xt, err = fitTransformStep(step, Xt, y)
		if err != nil {
			return errors.Wrapf(err, "failed to fit step '%s'", step.Name)
		}
		p.logStep(step.Name, start)
	}

	finalStep := p.Steps[len(p.Steps)-1]
	start := time.Now()
	switch est := finalStep.Estimator.(type) {
	case interface{ Fit(X, y mat.Matrix) error }:
		err = est.Fit(Xt, y)
	case model.Transformer:
		err = est.Fit(Xt)
	default:
		return errors.NewValidationError(
			"pipeline final step",
			"final step must have Fit method",
			finalStep.Name,
		)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to fit final step '%s'", finalStep.Name)
	}
	p.logStep(finalStep.Name, start)

	p.markFitted(nFeatures, nSamples)
	return nil
}

// Predict applies transforms to the data, and predict with the final estimator.
func (p *Pipeline) Predict(X mat.Matrix) (_ mat.Matrix, err error) {
	defer errors.Recover(&err, "Pipeline.Predict")
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("Pipeline", "Predict")
	}

	Xt, err := p.transform(X)
	if err != nil {
		return nil, err
	}

	finalStep := p.Steps[len(p.Steps)-1]
	if predictor, ok := finalStep.Estimator.(interface {
		Predict(mat.Matrix) (mat.Matrix, error)
	}); ok {
		return predictor.Predict(Xt)
	}

	return nil, errors.NewValidationError(
		"pipeline final step",
		"final step must have Predict method for prediction",
		finalStep.Name,
	)
}

// Transform applies transforms to the data.
// Only valid if the final step is a transformer.
func (p *Pipeline) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer errors.Recover(&err, "Pipeline.Transform")
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("Pipeline", "Transform")
	}

	Xt := X
	for _, step := range p.Steps {
		transformer, ok := step.Estimator.(interface {
			Transform(mat.Matrix) (mat.Matrix, error)
		})
		if !ok {
			return nil, errors.NewValidationError(
				"pipeline step",
				"all steps must be transformers for Transform",
				step.Name,
			)
		}

		Xt, err = transformer.Transform(Xt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to transform at step '%s'", step.Name)
		}
	}

	return Xt, nil
}

// FitPredict is a convenience method that fits the pipeline and predicts.
// Equivalent to calling Fit followed by Predict.
func (p *Pipeline) FitPredict(X, y mat.Matrix) (mat.Matrix, error) {
	if err := p.Fit(X, y); err != nil {
		return nil, err
	}
	return p.Predict(X)
}

// FitTransform fits every step on the output of the previous one and
// returns the output of the last. All steps must be transformers.
func (p *Pipeline) FitTransform(X, y mat.Matrix) (_ mat.Matrix, err error) {
	defer errors.Recover(&err, "Pipeline.FitTransform")
	if len(p.Steps) == 0 {
		return nil, errors.New("pipeline has no steps")
	}

	nSamples, nFeatures := X.Dims()
	Xt := X
	for _, step := range p.Steps {
		start := time.Now()
		Xt, err = fitTransformStep(step, Xt, y)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fit step '%s'", step.Name)
		}
		p.logStep(step.Name, start)
	}

	p.markFitted(nFeatures, nSamples)
	return Xt, nil
}

// Score returns the score of the final estimator.
func (p *Pipeline) Score(X, y mat.Matrix) (float64, error) {
	if !p.IsFitted() {
		return 0, errors.NewNotFittedError("Pipeline", "Score")
	}

	Xt, err := p.transform(X)
	if err != nil {
		return 0, err
	}

	finalStep := p.Steps[len(p.Steps)-1]
	if scorer, ok := finalStep.Estimator.(interface {
		Score(mat.Matrix, mat.Matrix) (float64, error)
	}); ok {
		return scorer.Score(Xt, y)
	}

	return 0, errors.NewValidationError(
		"pipeline final step",
		"final step must have Score method",
		finalStep.Name,
	)
}

// GetParams returns the parameters of the pipeline.
// This includes parameters of all steps, prefixed with "<step>__".
func (p *Pipeline) GetParams() map[string]interface{} {
	params := make(map[string]interface{})
	params["verbose"] = p.Verbose

	for _, step := range p.Steps {
		if paramsGetter, ok := step.Estimator.(interface {
			GetParams() map[string]interface{}
		}); ok {
			for key, value := range paramsGetter.GetParams() {
				params[fmt.Sprintf("%s__%s", step.Name, key)] = value
			}
		}
	}

	return params
}

// NamedSteps returns the steps as a map for easy access by name.
func (p *Pipeline) NamedSteps() map[string]interface{} {
	named := make(map[string]interface{}, len(p.Steps))
	for _, step := range p.Steps {
		named[step.Name] = step.Estimator
	}
	return named
}

// Step returns the estimator registered under name.
func (p *Pipeline) Step(name string) (interface{}, bool) {
	for _, step := range p.Steps {
		if step.Name == name {
			return step.Estimator, true
		}
	}
	return nil, false
}

// transform applies all transforms except the final estimator.
func (p *Pipeline) transform(X mat.Matrix) (mat.Matrix, error) {
	Xt := X
	var err error

	for _, step := range p.Steps[:len(p.Steps)-1] {
		transformer, ok := step.Estimator.(interface {
			Transform(mat.Matrix) (mat.Matrix, error)
		})
		if !ok {
			return nil, errors.NewValidationError(
				"pipeline step",
				"intermediate steps must be transformers",
				step.Name,
			)
		}

		Xt, err = transformer.Transform(Xt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to transform at step '%s'", step.Name)
		}
	}

	return Xt, nil
}
