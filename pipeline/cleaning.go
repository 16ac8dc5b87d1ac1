package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*Record) (*Record, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Row       int       `json:"row"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner 创建数据清洗器（带默认规则）
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	cleaner.AddRule(NewWhitespaceRule())
	cleaner.AddRule(NewRequiredFieldsRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	zap.L().Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// CleanOne 清洗单条记录；被拒绝时返回 nil 和问题列表
func (dc *DataCleaner) CleanOne(row int, rec Record) (*Record, []QualityIssue) {
	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	dc.stats.TotalProcessed++
	original := rec
	point := &rec
	var issues []QualityIssue

	for _, rule := range dc.rules {
		cleaned, err := rule.Apply(point)
		if err != nil {
			issues = append(issues, QualityIssue{
				Type:      rule.Name(),
				Severity:  "high",
				Message:   err.Error(),
				Timestamp: time.Now(),
				Row:       row,
			})
			dc.stats.Issues[rule.Name()]++
			continue
		}
		if cleaned != nil {
			point = cleaned
		}
	}

	dc.stats.LastClean = time.Now()
	if len(issues) > 0 {
		dc.stats.Rejected++
		dc.issuesLock.Lock()
		dc.issues = append(dc.issues, issues...)
		dc.issuesLock.Unlock()
		return nil, issues
	}

	if original != *point {
		dc.stats.Corrected++
	}
	dc.stats.Passed++
	return point, nil
}

// Clean 清洗一批记录，返回保留记录在输入中的下标
func (dc *DataCleaner) Clean(records []Record) ([]Record, []int, []QualityIssue) {
	cleaned := make([]Record, 0, len(records))
	kept := make([]int, 0, len(records))
	var issues []QualityIssue

	for i, rec := range records {
		out, recIssues := dc.CleanOne(i+1, rec)
		if out == nil {
			issues = append(issues, recIssues...)
			continue
		}
		cleaned = append(cleaned, *out)
		kept = append(kept, i)
	}
	return cleaned, kept, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近的问题列表
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ 清洗规则实现 ============

// WhitespaceRule 去除首尾空白并合并内部连续空白
type WhitespaceRule struct{}

func NewWhitespaceRule() *WhitespaceRule {
	return &WhitespaceRule{}
}

func (r *WhitespaceRule) Name() string {
	return "whitespace"
}

func (r *WhitespaceRule) Apply(rec *Record) (*Record, error) {
	out := *rec
	for _, f := range predictorFields {
		v, _ := out.Get(f)
		_ = out.Set(f, strings.Join(strings.Fields(v), " "))
	}
	return &out, nil
}

// RequiredFieldsRule 所有预测字段都必须非空
type RequiredFieldsRule struct{}

func NewRequiredFieldsRule() *RequiredFieldsRule {
	return &RequiredFieldsRule{}
}

func (r *RequiredFieldsRule) Name() string {
	return "required_fields"
}

func (r *RequiredFieldsRule) Apply(rec *Record) (*Record, error) {
	var empty []string
	for _, f := range predictorFields {
		if v, _ := rec.Get(f); v == "" {
			empty = append(empty, f)
		}
	}
	if len(empty) > 0 {
		return nil, fmt.Errorf("empty fields: %s", strings.Join(empty, ", "))
	}
	return rec, nil
}
