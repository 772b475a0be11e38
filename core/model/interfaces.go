// Package model provides the core abstractions shared by the estimators,
// transformers and pipelines of the taxifare training workflow.
//
// This package defines:
//
//   - Transformer / Regressor: the fit-then-apply contracts every step follows
//   - StateManager: fitted-state tracking embedded in every component
//   - Model persistence: save and load fitted components with encoding/gob
//
// Components hold a *StateManager instead of embedding a base type:
//
//	type MyTransformer struct {
//		State *model.StateManager
//	}
//
//	func (t *MyTransformer) Fit(X mat.Matrix) error {
//		// learn parameters
//		t.State.SetFitted()
//		return nil
//	}
package model

import "gonum.org/v1/gonum/mat"

// Transformer learns parameters from X and applies them.
// Transform must never change what Fit learned.
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// SupervisedTransformer is a chain of transformations whose fitting may
// depend on the target, such as a pipeline of transformers.
type SupervisedTransformer interface {
	FitTransform(X, y mat.Matrix) (mat.Matrix, error)
	Transform(X mat.Matrix) (mat.Matrix, error)
}

// Regressor is a supervised model predicting continuous targets.
type Regressor interface {
	Fit(X, y mat.Matrix) error
	Predict(X mat.Matrix) (mat.Matrix, error)
	IsFitted() bool
}

// Fittable reports whether a component has learned its parameters.
type Fittable interface {
	IsFitted() bool
}

// ColumnIndexer is implemented by tables whose columns can be addressed by
// name.
type ColumnIndexer interface {
	ColumnIndex(name string) (int, bool)
	ColumnNames() []string
}
