// Package compose implements scikit-learn compatible ColumnTransformer,
// applying a different transformer to each named group of input columns and
// concatenating the results side by side.
// This provides the same API as sklearn.compose.ColumnTransformer.
package compose

import (
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/frame"
	"github.com/ezoic/taxifare/core/model"
	"github.com/ezoic/taxifare/core/parallel"
	"github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

func init() {
	gob.Register(&ColumnTransformer{})
}

// Special transformer values, usable both for a Branch and for Remainder.
const (
	Drop        = "drop"
	Passthrough = "passthrough"
)

// Branch routes the named columns through Transformer.
//
// Transformer is a model.Transformer, a model.SupervisedTransformer (such as
// a *pipeline.Pipeline), or one of the strings Drop / Passthrough.
type Branch struct {
	Name        string
	Transformer interface{}
	Columns     []string
}

// ColumnTransformer applies each Branch to its columns of a named-column
// input (anything implementing model.ColumnIndexer, typically a
// *frame.Frame) and stacks the branch outputs horizontally in branch order.
// Columns claimed by no branch are dropped, or appended unchanged when
// Remainder is Passthrough.
//
// Branches are fitted and applied concurrently; the output does not depend
// on scheduling.
type ColumnTransformer struct {
	State *model.StateManager

	Branches  []Branch
	Remainder string

	// Fitted layout
	BranchWidths     []int
	RemainderColumns []string
	NOutputs         int

	logger log.Logger
}

// NewColumnTransformer creates a ColumnTransformer with remainder policy Drop.
//
// Example:
//
//	ct := compose.NewColumnTransformer(
//	    compose.Branch{Name: "distance", Transformer: distPipe, Columns: coordCols},
//	    compose.Branch{Name: "time", Transformer: timePipe, Columns: []string{"pickup_datetime"}},
//	)
func NewColumnTransformer(branches ...Branch) *ColumnTransformer {
	return &ColumnTransformer{
		State:     model.NewStateManager(),
		Branches:  branches,
		Remainder: Drop,
	}
}

func (ct *ColumnTransformer) log() log.Logger {
	if ct.logger == nil {
		ct.logger = log.GetLoggerWithName("ColumnTransformer")
	}
	return ct.logger
}

// IsFitted reports whether Fit has completed.
func (ct *ColumnTransformer) IsFitted() bool {
	return ct.State.IsFitted()
}

// GetParams returns the remainder policy and branch layout.
func (ct *ColumnTransformer) GetParams() map[string]interface{} {
	names := make([]string, len(ct.Branches))
	for i, b := range ct.Branches {
		names[i] = b.Name
	}
	return map[string]interface{}{
		"remainder":    ct.Remainder,
		"transformers": names,
	}
}

func (ct *ColumnTransformer) validate() error {
	switch ct.Remainder {
	case "":
		ct.Remainder = Drop
	case Drop, Passthrough:
	default:
		return errors.NewValidationError("remainder",
			fmt.Sprintf("must be %q or %q", Drop, Passthrough), ct.Remainder)
	}
	if len(ct.Branches) == 0 {
		return errors.NewValidationError("transformers", "at least one branch is required", 0)
	}

	seen := make(map[string]bool, len(ct.Branches))
	for _, b := range ct.Branches {
		if seen[b.Name] {
			return errors.NewValidationError("transformers", "duplicate branch name", b.Name)
		}
		seen[b.Name] = true
		if len(b.Columns) == 0 {
			return errors.NewValidationError("transformers", "branch selects no columns", b.Name)
		}
		switch t := b.Transformer.(type) {
		case model.Transformer, model.SupervisedTransformer:
		case string:
			if t != Drop && t != Passthrough {
				return errors.NewValidationError("transformers",
					fmt.Sprintf("branch %q: unknown transformer %q", b.Name, t), t)
			}
		default:
			return errors.NewValidationError("transformers",
				fmt.Sprintf("branch %q: %T is not a transformer", b.Name, t), b.Name)
		}
	}
	return nil
}

// resolve checks that every referenced column exists in X and returns the
// column names claimed by no branch.
func (ct *ColumnTransformer) resolve(op string, X mat.Matrix) (model.ColumnIndexer, []string, error) {
	named, ok := X.(model.ColumnIndexer)
	if !ok {
		return nil, nil, errors.NewValueError(op, fmt.Sprintf("input %T has no column names", X))
	}

	claimed := make(map[string]bool)
	var missing []string
	for _, b := range ct.Branches {
		for _, col := range b.Columns {
			if _, ok := named.ColumnIndex(col); !ok {
				missing = append(missing, col)
			}
			claimed[col] = true
		}
	}
	if len(missing) > 0 {
		return nil, nil, errors.NewColumnError(op, missing, named.ColumnNames())
	}

	var rest []string
	for _, col := range named.ColumnNames() {
		if !claimed[col] {
			rest = append(rest, col)
		}
	}
	return named, rest, nil
}

// selectColumns copies the named columns of X into a new frame.
func selectColumns(X mat.Matrix, named model.ColumnIndexer, cols []string) (*frame.Frame, error) {
	if f, ok := X.(*frame.Frame); ok {
		return f.Select(cols...)
	}

	r, _ := X.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for k, col := range cols {
		j, _ := named.ColumnIndex(col)
		for i := 0; i < r; i++ {
			out.Set(i, k, X.At(i, j))
		}
	}
	return frame.NewFromDense(cols, out)
}

// Fit learns every branch from X.
func (ct *ColumnTransformer) Fit(X mat.Matrix) error {
	_, err := ct.FitTransform(X)
	return err
}

// FitTransform fits every branch on its columns of X and returns the
// stacked outputs.
func (ct *ColumnTransformer) FitTransform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer errors.Recover(&err, "ColumnTransformer.FitTransform")
	if err := ct.validate(); err != nil {
		return nil, err
	}
	named, rest, err := ct.resolve("ColumnTransformer.Fit", X)
	if err != nil {
		return nil, err
	}

	outputs, err := ct.apply(X, named, true)
	if err != nil {
		return nil, err
	}

	ct.BranchWidths = make([]int, len(outputs))
	for i, out := range outputs {
		if out != nil {
			_, ct.BranchWidths[i] = out.Dims()
		}
	}
	ct.RemainderColumns = nil
	if ct.Remainder == Passthrough {
		ct.RemainderColumns = rest
	}

	result, err := ct.stack(X, named, outputs)
	if err != nil {
		return nil, err
	}

	r, c := X.Dims()
	_, ct.NOutputs = result.Dims()
	if ct.State == nil {
		ct.State = model.NewStateManager()
	}
	ct.State.SetDimensions(c, r)
	ct.State.SetFitted()

	ct.log().Debug("ColumnTransformer fitted",
		log.OperationKey, log.OperationFitTransform,
		log.SamplesKey, r,
		log.FeaturesKey, ct.NOutputs,
		log.DroppedKey, len(rest)-len(ct.RemainderColumns),
	)
	return result, nil
}

// Transform applies the fitted branches to X without refitting anything.
func (ct *ColumnTransformer) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer errors.Recover(&err, "ColumnTransformer.Transform")
	if !ct.IsFitted() {
		return nil, errors.NewNotFittedError("ColumnTransformer", "Transform")
	}
	named, _, err := ct.resolve("ColumnTransformer.Transform", X)
	if err != nil {
		return nil, err
	}

	outputs, err := ct.apply(X, named, false)
	if err != nil {
		return nil, err
	}
	for i, out := range outputs {
		width := 0
		if out != nil {
			_, width = out.Dims()
		}
		if width != ct.BranchWidths[i] {
			return nil, errors.NewDimensionError(
				fmt.Sprintf("ColumnTransformer.Transform[%s]", ct.Branches[i].Name),
				ct.BranchWidths[i], width, 1)
		}
	}

	for _, col := range ct.RemainderColumns {
		if _, ok := named.ColumnIndex(col); !ok {
			return nil, errors.NewColumnError("ColumnTransformer.Transform", []string{col}, named.ColumnNames())
		}
	}
	return ct.stack(X, named, outputs)
}

// apply runs every branch concurrently. Dropped branches yield nil.
func (ct *ColumnTransformer) apply(X mat.Matrix, named model.ColumnIndexer, fit bool) ([]mat.Matrix, error) {
	outputs := make([]mat.Matrix, len(ct.Branches))
	tasks := make([]func() error, len(ct.Branches))

	for i, b := range ct.Branches {
		i, b := i, b
		tasks[i] = func() error {
			if s, ok := b.Transformer.(string); ok && s == Drop {
				return nil
			}
			sub, err := selectColumns(X, named, b.Columns)
			if err != nil {
				return err
			}

			var out mat.Matrix
			switch t := b.Transformer.(type) {
			case string: // Passthrough
				out = sub
			case model.Transformer:
				if fit {
					out, err = t.FitTransform(sub)
				} else {
					out, err = t.Transform(sub)
				}
			case model.SupervisedTransformer:
				if fit {
					out, err = t.FitTransform(sub, nil)
				} else {
					out, err = t.Transform(sub)
				}
			}
			if err != nil {
				return errors.Wrapf(err, "branch '%s'", b.Name)
			}
			outputs[i] = out
			return nil
		}
	}

	if err := parallel.Do(tasks...); err != nil {
		return nil, err
	}
	return outputs, nil
}

// stack concatenates branch outputs and remainder columns horizontally.
func (ct *ColumnTransformer) stack(X mat.Matrix, named model.ColumnIndexer, outputs []mat.Matrix) (mat.Matrix, error) {
	r, _ := X.Dims()

	width := len(ct.RemainderColumns)
	for _, out := range outputs {
		if out == nil {
			continue
		}
		or, oc := out.Dims()
		if or != r {
			return nil, errors.NewDimensionError("ColumnTransformer.stack", r, or, 0)
		}
		width += oc
	}
	if width == 0 {
		return nil, errors.NewValueError("ColumnTransformer", "all columns were dropped")
	}

	result := mat.NewDense(r, width, nil)
	offset := 0
	for _, out := range outputs {
		if out == nil {
			continue
		}
		_, oc := out.Dims()
		result.Slice(0, r, offset, offset+oc).(*mat.Dense).Copy(out)
		offset += oc
	}
	for _, col := range ct.RemainderColumns {
		j, _ := named.ColumnIndex(col)
		for i := 0; i < r; i++ {
			result.Set(i, offset, X.At(i, j))
		}
		offset++
	}
	return result, nil
}
