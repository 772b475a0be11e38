// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// 学習・評価・トラッキングの各段階で発生するエラーを構造化された型で表現し、
// cockroachdb/errors によるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("taxifare-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler sets the process-wide warning handler.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // ignore warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// TrackingWarning is raised when a call to the experiment-tracking backend
// failed and the failure was tolerated.
type TrackingWarning struct {
	Op       string
	Attempts int
	Err      error
}

func (w *TrackingWarning) Error() string {
	return fmt.Sprintf("tracking %s failed after %d attempt(s), continuing: %v", w.Op, w.Attempts, w.Err)
}

func (w *TrackingWarning) Unwrap() error {
	return w.Err
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *TrackingWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("operation", w.Op).
		Int("attempts", w.Attempts).
		AnErr("cause", w.Err).
		Str("type", "TrackingWarning")
}

// NewTrackingWarning creates a TrackingWarning.
func NewTrackingWarning(op string, attempts int, err error) *TrackingWarning {
	return &TrackingWarning{Op: op, Attempts: attempts, Err: err}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("taxifare: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("taxifare: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
// `ValueError`よりも具体的なバリデーションロジックの失敗を示します。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("taxifare: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("taxifare: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError は機械学習モデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("taxifare: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("taxifare: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// ColumnError は必要な列が入力テーブルに存在しない場合の設定エラーです。
type ColumnError struct {
	Op        string
	Missing   []string
	Available []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("taxifare: %s: missing required column(s) [%s] (available: [%s])",
		e.Op, strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ColumnError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Strs("missing", e.Missing).
		Strs("available", e.Available).
		Str("type", "ColumnError")
}

// NewColumnError creates a ColumnError with a stack trace.
func NewColumnError(op string, missing, available []string) error {
	err := &ColumnError{Op: op, Missing: missing, Available: available}
	return errors.WithStack(err)
}

// TimestampError is a data-format error for values that cannot be read as
// a timestamp.
type TimestampError struct {
	Op    string
	Row   int
	Value string
	Err   error
}

func (e *TimestampError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("taxifare: %s: row %d: cannot parse %q as a timestamp: %v", e.Op, e.Row, e.Value, e.Err)
	}
	return fmt.Sprintf("taxifare: %s: row %d: cannot parse %q as a timestamp", e.Op, e.Row, e.Value)
}

func (e *TimestampError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *TimestampError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("row", e.Row).
		Str("value", e.Value).
		Str("type", "TimestampError")
}

// NewTimestampError creates a TimestampError with a stack trace.
func NewTimestampError(op string, row int, value string, cause error) error {
	err := &TimestampError{Op: op, Row: row, Value: value, Err: cause}
	return errors.WithStack(err)
}

// PreconditionError reports an operation invoked before the lifecycle stage
// it depends on was reached.
type PreconditionError struct {
	Op       string
	Requires string
	Current  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("taxifare: %s requires stage %q, current stage is %q", e.Op, e.Requires, e.Current)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *PreconditionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("requires", e.Requires).
		Str("current", e.Current).
		Str("type", "PreconditionError")
}

// NewPreconditionError creates a PreconditionError with a stack trace.
func NewPreconditionError(op, requires, current string) error {
	err := &PreconditionError{Op: op, Requires: requires, Current: current}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Mark はエラーに参照エラーのマーカーを付与し、Is(err, reference) が真になるようにします。
func Mark(err error, reference error) error {
	return errors.Mark(err, reference)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")
)
