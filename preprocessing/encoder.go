package preprocessing

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/taxifare/core/model"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
)

// Unknown category handling for OneHotEncoder.
const (
	// HandleUnknownIgnore encodes unseen categories as an all-zero block.
	HandleUnknownIgnore = "ignore"
	// HandleUnknownError rejects unseen categories at Transform.
	HandleUnknownError = "error"
)

// OneHotEncoder はscikit-learn互換のOne-Hotエンコーダー
// カテゴリカルなデータを0/1のバイナリベクトルに変換する
//
// 数値行列を入力とする場合、各値は strconv.FormatFloat(v, 'f', -1, 64)
// でカテゴリ名に変換され、カテゴリは数値順に並ぶ。
type OneHotEncoder struct {
	State *model.StateManager

	// HandleUnknown は未知カテゴリの扱い ("ignore" または "error")
	HandleUnknown string

	// Categories は各特徴量のカテゴリ一覧（ソート済み）
	Categories [][]string

	// CategoryToIdx は各特徴量のカテゴリ→インデックスマップ
	CategoryToIdx []map[string]int

	// NFeatures は入力特徴量数
	NFeatures int

	// NOutputs は出力特徴量数（全カテゴリの合計数）
	NOutputs int
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
// 未知カテゴリはゼロベクトルとしてエンコードされる (handle_unknown=ignore)
//
// 使用例:
//
//	encoder := preprocessing.NewOneHotEncoder()
//	err := encoder.Fit(X)
//	encoded, err := encoder.Transform(X)
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{
		State:         model.NewStateManager(),
		HandleUnknown: HandleUnknownIgnore,
	}
}

// IsFitted reports whether the vocabulary has been learned.
func (e *OneHotEncoder) IsFitted() bool {
	return e.State.IsFitted()
}

func categoryKey(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (e *OneHotEncoder) validate(op string) error {
	switch e.HandleUnknown {
	case HandleUnknownIgnore, HandleUnknownError:
		return nil
	case "":
		e.HandleUnknown = HandleUnknownIgnore
		return nil
	default:
		return taxiErrors.NewValidationError("handle_unknown",
			fmt.Sprintf("%s: must be %q or %q", op, HandleUnknownIgnore, HandleUnknownError), e.HandleUnknown)
	}
}

// Fit は数値行列の各列からカテゴリ語彙を学習する
func (e *OneHotEncoder) Fit(X mat.Matrix) (err error) {
	defer taxiErrors.Recover(&err, "OneHotEncoder.Fit")
	if err := e.validate("OneHotEncoder.Fit"); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return taxiErrors.NewModelError("OneHotEncoder.Fit", "empty data", taxiErrors.ErrEmptyData)
	}

	values := make([][]float64, c)
	for j := 0; j < c; j++ {
		seen := make(map[float64]bool)
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if !seen[v] {
				seen[v] = true
				values[j] = append(values[j], v)
			}
		}
		sort.Float64s(values[j])
	}

	categories := make([][]string, c)
	for j, vs := range values {
		categories[j] = make([]string, len(vs))
		for k, v := range vs {
			categories[j][k] = categoryKey(v)
		}
	}

	e.setVocabulary(categories, r)
	return nil
}

// FitStrings は訓練データ（文字列）からカテゴリ情報を学習する
//
// パラメータ:
//   - data: 訓練データ (n_samples × n_features の文字列スライス)
func (e *OneHotEncoder) FitStrings(data [][]string) (err error) {
	defer taxiErrors.Recover(&err, "OneHotEncoder.FitStrings")
	if err := e.validate("OneHotEncoder.FitStrings"); err != nil {
		return err
	}
	if len(data) == 0 {
		return taxiErrors.NewModelError("OneHotEncoder.FitStrings", "empty data", taxiErrors.ErrEmptyData)
	}
	if len(data[0]) == 0 {
		return taxiErrors.NewModelError("OneHotEncoder.FitStrings", "empty features", taxiErrors.ErrEmptyData)
	}

	nFeatures := len(data[0])
	for _, row := range data {
		if len(row) != nFeatures {
			return taxiErrors.NewDimensionError("OneHotEncoder.FitStrings", nFeatures, len(row), 1)
		}
	}

	categories := make([][]string, nFeatures)
	for j := 0; j < nFeatures; j++ {
		categorySet := make(map[string]bool)
		for _, row := range data {
			categorySet[row[j]] = true
		}
		for category := range categorySet {
			categories[j] = append(categories[j], category)
		}
		sort.Strings(categories[j])
	}

	e.setVocabulary(categories, len(data))
	return nil
}

func (e *OneHotEncoder) setVocabulary(categories [][]string, nSamples int) {
	e.NFeatures = len(categories)
	e.Categories = categories
	e.CategoryToIdx = make([]map[string]int, len(categories))
	e.NOutputs = 0
	for j, cats := range categories {
		idx := make(map[string]int, len(cats))
		for k, category := range cats {
			idx[category] = k
		}
		e.CategoryToIdx[j] = idx
		e.NOutputs += len(cats)
	}

	if e.State == nil {
		e.State = model.NewStateManager()
	}
	e.State.SetDimensions(e.NFeatures, nSamples)
	e.State.SetFitted()

	log.GetLoggerWithName("preprocessing").Debug("OneHotEncoder fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, e.NOutputs,
	)
}

// Transform は学習済みの語彙で数値行列をone-hot encodingする
// 語彙は変更されない
func (e *OneHotEncoder) Transform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "OneHotEncoder.Transform")
	if err := e.State.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != e.NFeatures {
		return nil, taxiErrors.NewDimensionError("OneHotEncoder.Transform", e.NFeatures, c, 1)
	}
	return e.encode(r, func(i, j int) string { return categoryKey(X.At(i, j)) })
}

// TransformStrings は学習済みのカテゴリ情報を使って文字列データをone-hot encodingする
func (e *OneHotEncoder) TransformStrings(data [][]string) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "OneHotEncoder.TransformStrings")
	if err := e.State.RequireFitted("OneHotEncoder", "TransformStrings"); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &mat.Dense{}, nil
	}
	for _, row := range data {
		if len(row) != e.NFeatures {
			return nil, taxiErrors.NewDimensionError("OneHotEncoder.TransformStrings", e.NFeatures, len(row), 1)
		}
	}
	return e.encode(len(data), func(i, j int) string { return data[i][j] })
}

func (e *OneHotEncoder) encode(nSamples int, category func(i, j int) string) (mat.Matrix, error) {
	if nSamples == 0 {
		return &mat.Dense{}, nil
	}
	result := mat.NewDense(nSamples, e.NOutputs, nil)
	unknown := 0

	for i := 0; i < nSamples; i++ {
		outputIdx := 0
		for j := 0; j < e.NFeatures; j++ {
			key := category(i, j)
			if idx, exists := e.CategoryToIdx[j][key]; exists {
				result.Set(i, outputIdx+idx, 1.0)
			} else if e.HandleUnknown == HandleUnknownError {
				return nil, taxiErrors.NewValueError("OneHotEncoder.Transform",
					fmt.Sprintf("found unknown category %q in column %d during transform", key, j))
			} else {
				unknown++
			}
			outputIdx += len(e.Categories[j])
		}
	}

	if unknown > 0 {
		log.GetLoggerWithName("preprocessing").Debug("OneHotEncoder encoded unseen categories as zeros",
			log.OperationKey, log.OperationTransform,
			"unknown", unknown,
		)
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (e *OneHotEncoder) FitTransform(X mat.Matrix) (_ mat.Matrix, err error) {
	defer taxiErrors.Recover(&err, "OneHotEncoder.FitTransform")
	if err := e.Fit(X); err != nil {
		return nil, err
	}
	return e.Transform(X)
}

// GetFeatureNamesOut は変換後の特徴量の名前を返す
//
// 例:
//   - 入力特徴量名が["dow", "hour"]の場合
//   - 出力: ["dow_0", "dow_1", ..., "hour_0", ...]
func (e *OneHotEncoder) GetFeatureNamesOut(inputFeatures []string) []string {
	if !e.IsFitted() {
		return nil
	}

	var outputFeatures []string
	for i, categories := range e.Categories {
		inputFeatureName := fmt.Sprintf("x%d", i)
		if i < len(inputFeatures) {
			inputFeatureName = inputFeatures[i]
		}
		for _, category := range categories {
			outputFeatures = append(outputFeatures, fmt.Sprintf("%s_%s", inputFeatureName, category))
		}
	}
	return outputFeatures
}
