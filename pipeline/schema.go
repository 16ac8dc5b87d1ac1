// Package pipeline 提供数据集读取、清洗与词表构建
package pipeline

import (
	"strings"
)

// 预测字段（规范顺序）
const (
	FieldSoilTexture        = "Soil.Texture"
	FieldSoilColour         = "Soil.Colour"
	FieldGeologicalFeatures = "Geological.Features"
	FieldElevation          = "Elevation"
	FieldTreeVigour         = "Natural.vegetation.tree.vigour"
	FieldTreeHeight         = "Natural.vegetation.tree.height"
	FieldDrainageDensity    = "Drainage.Density"

	// LabelColumn 标签列
	LabelColumn = "Decision"
)

// 标签取值
const (
	LabelHigh = "High Potential"
	LabelLow  = "Low Potential"
)

var predictorFields = []string{
	FieldSoilTexture,
	FieldSoilColour,
	FieldGeologicalFeatures,
	FieldElevation,
	FieldTreeVigour,
	FieldTreeHeight,
	FieldDrainageDensity,
}

// legacyAliases 原始数据集中的列名（含拼写错误）
var legacyAliases = map[string]string{
	"Natural.vegitation..tree..vigour": FieldTreeVigour,
	"Natural.vegitation..tree..height": FieldTreeHeight,
	"Natural.vegetation..tree..vigour": FieldTreeVigour,
	"Natural.vegetation..tree..height": FieldTreeHeight,
	"Soil.Color":                       FieldSoilColour,
}

// PredictorFields 返回预测字段的副本（规范顺序）
func PredictorFields() []string {
	out := make([]string, len(predictorFields))
	copy(out, predictorFields)
	return out
}

// DatasetColumns 返回训练数据集的列（标签在前，与原始数据一致）
func DatasetColumns() []string {
	return append([]string{LabelColumn}, predictorFields...)
}

// IsPredictor 判断是否为预测字段
func IsPredictor(name string) bool {
	return fieldIndex(name) >= 0
}

func fieldIndex(name string) int {
	for i, f := range predictorFields {
		if f == name {
			return i
		}
	}
	return -1
}

// CanonicalColumn 规范化列名：去空白、映射旧列名
func CanonicalColumn(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	if canonical, ok := legacyAliases[name]; ok {
		return canonical
	}
	return name
}

// NormalizeHeader 规范化整行表头
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = CanonicalColumn(h)
	}
	return out
}

// ParseLabel 解析标签，去除首尾空白后映射为 {1, 0}
func ParseLabel(raw string) (int, bool) {
	switch strings.TrimSpace(raw) {
	case LabelHigh:
		return 1, true
	case LabelLow:
		return 0, true
	default:
		return 0, false
	}
}

// LabelName 将类别编号映射回标签文本
func LabelName(class int) string {
	if class == 1 {
		return LabelHigh
	}
	return LabelLow
}
