package errors_test

import (
	"errors"
	"fmt"
	"testing"

	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
)

// TestErrorWrappingCompatibility tests Go 1.13+ error wrapping with our custom types
func TestErrorWrappingCompatibility(t *testing.T) {
	originalErr := taxiErrors.NewNotFittedError("TestModel", "Predict")

	wrappedErr := fmt.Errorf("pipeline step failed: %w", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Errorf("errors.Is failed to identify wrapped error")
	}

	var notFittedErr *taxiErrors.NotFittedError
	if !errors.As(wrappedErr, &notFittedErr) {
		t.Errorf("errors.As failed to extract NotFittedError")
	}

	if notFittedErr.ModelName != "TestModel" {
		t.Errorf("expected ModelName 'TestModel', got '%s'", notFittedErr.ModelName)
	}
}

// TestCombinedErrorTypes tests mixing custom and standard errors
func TestCombinedErrorTypes(t *testing.T) {
	stdErr := fmt.Errorf("standard error")

	customErr := taxiErrors.NewModelError("TestOp", "test failure", stdErr)

	wrappedErr := fmt.Errorf("operation context: %w", customErr)

	if !errors.Is(wrappedErr, stdErr) {
		t.Errorf("failed to find standard error in chain")
	}

	var modelErr *taxiErrors.ModelError
	if !errors.As(wrappedErr, &modelErr) {
		t.Errorf("failed to extract ModelError")
	}

	if modelErr.Unwrap() != stdErr {
		t.Errorf("ModelError.Unwrap() didn't return expected error")
	}
}

// TestSentinelErrors tests sentinel error patterns
func TestSentinelErrors(t *testing.T) {
	err := taxiErrors.NewModelError("TestOp", "empty data", taxiErrors.ErrEmptyData)

	if !errors.Is(err, taxiErrors.ErrEmptyData) {
		t.Errorf("failed to identify ErrEmptyData sentinel")
	}

	wrappedErr := fmt.Errorf("preprocessing failed: %w", err)

	if !errors.Is(wrappedErr, taxiErrors.ErrEmptyData) {
		t.Errorf("failed to identify ErrEmptyData through wrapper")
	}
}

// TestTimestampErrorUnwrap checks the parse cause stays reachable
func TestTimestampErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("bad layout")
	err := taxiErrors.NewTimestampError("dataset.LoadCSV", 7, "yesterday", cause)

	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain")
	}

	var tsErr *taxiErrors.TimestampError
	if !errors.As(err, &tsErr) {
		t.Fatalf("expected TimestampError, got %T", err)
	}
	if tsErr.Row != 7 || tsErr.Value != "yesterday" {
		t.Errorf("unexpected fields: %+v", tsErr)
	}
}
