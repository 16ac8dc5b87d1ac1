package pipeline

import (
	"fmt"
	"strings"
)

// SchemaError 数据集或记录缺少预期的列
type SchemaError struct {
	Missing   []string
	Duplicate []string
	Detail    string
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, 3)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate columns: "+strings.Join(e.Duplicate, ", "))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if len(parts) == 0 {
		return "schema error"
	}
	return "schema error: " + strings.Join(parts, "; ")
}

// LabelError 标签不在两个已知类别之内（仅训练时）
type LabelError struct {
	Row   int
	Value string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("label error: row %d: %q is not %q or %q", e.Row, e.Value, LabelHigh, LabelLow)
}

// FormatError 上传或数据文件本身无法解析（CSV 结构错误、非 XLSX 文件）
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s file: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
