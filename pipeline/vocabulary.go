package pipeline

import (
	"sort"
)

// Vocabulary 每个字段的可选取值（排序）与众数
type Vocabulary struct {
	Categories map[string][]string `json:"categories"`
	Modes      map[string]string   `json:"modes"`
}

// BuildVocabulary 从训练记录构建词表；众数并列时取字典序最小值
func BuildVocabulary(records []Record) *Vocabulary {
	vocab := &Vocabulary{
		Categories: make(map[string][]string, len(predictorFields)),
		Modes:      make(map[string]string, len(predictorFields)),
	}

	columnCounts := make([]map[string]int, len(predictorFields))
	for j := range columnCounts {
		columnCounts[j] = make(map[string]int)
	}
	for _, rec := range records {
		for j, v := range rec.Values() {
			columnCounts[j][v]++
		}
	}

	for j, field := range predictorFields {
		counts := columnCounts[j]
		values := make([]string, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Strings(values)
		vocab.Categories[field] = values

		mode, best := "", -1
		for _, v := range values {
			if counts[v] > best {
				mode, best = v, counts[v]
			}
		}
		vocab.Modes[field] = mode
	}
	return vocab
}

// Options 字段的可选取值
func (v *Vocabulary) Options(field string) []string {
	out := make([]string, len(v.Categories[field]))
	copy(out, v.Categories[field])
	return out
}

// Mode 字段众数
func (v *Vocabulary) Mode(field string) string {
	return v.Modes[field]
}

// Contains 判断取值是否出现在训练数据中
func (v *Vocabulary) Contains(field, value string) bool {
	values := v.Categories[field]
	i := sort.SearchStrings(values, value)
	return i < len(values) && values[i] == value
}

// Defaults 以众数构造完整记录
func (v *Vocabulary) Defaults() Record {
	var rec Record
	for _, f := range predictorFields {
		_ = rec.Set(f, v.Modes[f])
	}
	return rec
}
