package pipeline

import (
	"strings"

	"go.uber.org/zap"
)

// Dataset 已清洗的训练数据：记录与 {0,1} 标签一一对应
type Dataset struct {
	Records  []Record
	Labels   []int
	Rejected int
	Issues   []QualityIssue
}

// Len 样本数
func (d *Dataset) Len() int {
	return len(d.Records)
}

// ClassCounts 各类别样本数（下标即类别）
func (d *Dataset) ClassCounts() [2]int {
	var counts [2]int
	for _, y := range d.Labels {
		counts[y]++
	}
	return counts
}

// LoadDataset 读取并构建训练数据集
func LoadDataset(path string, opts ReadOptions) (*Dataset, error) {
	table, err := ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	return BuildDataset(table, opts, NewDataCleaner())
}

// BuildDataset 解析标签并清洗记录；任何非法标签都会中止
func BuildDataset(table *Table, opts ReadOptions, cleaner *DataCleaner) (*Dataset, error) {
	rows, err := DecodeLabeled(table, opts)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Records: make([]Record, 0, len(rows)),
		Labels:  make([]int, 0, len(rows)),
	}

	// 表头占第1行，数据行号从2开始
	for i, row := range rows {
		label, ok := ParseLabel(row.Decision)
		if !ok {
			return nil, &LabelError{Row: i + 2, Value: strings.TrimSpace(row.Decision)}
		}

		rec, issues := cleaner.CleanOne(i+2, row.Record)
		if rec == nil {
			ds.Rejected++
			ds.Issues = append(ds.Issues, issues...)
			continue
		}
		ds.Records = append(ds.Records, *rec)
		ds.Labels = append(ds.Labels, label)
	}

	if ds.Rejected > 0 {
		zap.L().Warn("rows rejected during cleaning",
			zap.Int("rejected", ds.Rejected),
			zap.Int("kept", ds.Len()),
		)
	}
	return ds, nil
}
