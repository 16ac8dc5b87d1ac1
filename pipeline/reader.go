package pipeline

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadOptions 表格读取配置
type ReadOptions struct {
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
	// PositionalHeader 表头无法识别且列数恰为8时，按位置套用规范列名（标签在前）
	PositionalHeader bool `yaml:"positional_header"`
}

// Table 通用表格：原始表头 + 数据行
type Table struct {
	Header []string
	Rows   [][]string
}

// Columns 返回规范化后的列名
func (t *Table) Columns() []string {
	return NormalizeHeader(t.Header)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.Rows)
}

// ReadFile 按扩展名读取 CSV 或 XLSX 文件
func ReadFile(path string, opts ReadOptions) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return ReadBytes(filepath.Base(path), data, opts)
}

// ReadBytes 按文件名判断格式并解析
func ReadBytes(name string, data []byte, opts ReadOptions) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return ReadXLSX(data)
	default:
		return ReadCSV(bytes.NewReader(data), opts)
	}
}

// ReadCSV 读取分隔符文本表格
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	decoder, err := textDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(transform.NewReader(r, decoder))
	reader.TrimLeadingSpace = true
	if opts.Delimiter != "" {
		comma, _ := utf8.DecodeRuneInString(opts.Delimiter)
		reader.Comma = comma
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &FormatError{Format: "csv", Err: err}
	}
	if len(records) == 0 {
		return nil, &SchemaError{Detail: "table has no header row"}
	}
	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// ReadXLSX 读取 XLSX 第一个工作表，首行为表头
func ReadXLSX(data []byte) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, &FormatError{Format: "xlsx", Err: err}
	}
	if len(f.Sheets) == 0 {
		return nil, &SchemaError{Detail: "xlsx has no sheets"}
	}

	sheet := f.Sheets[0]
	var table *Table
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if table == nil {
			table = &Table{Header: trimTrailingEmpty(cells)}
			continue
		}
		if isBlank(cells) {
			continue
		}
		table.Rows = append(table.Rows, padRow(cells, len(table.Header)))
	}
	if table == nil {
		return nil, &SchemaError{Detail: "xlsx sheet is empty"}
	}
	return table, nil
}

// CheckColumns 检查表头包含全部必需列且无重复
func CheckColumns(columns, required []string) error {
	seen := make(map[string]int, len(columns))
	var duplicate []string
	for _, c := range columns {
		seen[c]++
		if seen[c] == 2 {
			duplicate = append(duplicate, c)
		}
	}

	var missing []string
	for _, c := range required {
		if seen[c] == 0 {
			missing = append(missing, c)
		}
	}

	if len(missing) > 0 || len(duplicate) > 0 {
		return &SchemaError{Missing: missing, Duplicate: duplicate}
	}
	return nil
}

// DecodeRecords 将表格解码为原始记录（忽略额外列）
func DecodeRecords(t *Table) ([]Record, error) {
	columns := t.Columns()
	if err := CheckColumns(columns, predictorFields); err != nil {
		return nil, err
	}

	dec, err := csvutil.NewDecoder(&rowReader{rows: t.Rows}, columns...)
	if err != nil {
		return nil, eris.Wrap(err, "csv decoder")
	}

	records := make([]Record, 0, len(t.Rows))
	for {
		var rec Record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "decode row %d", len(records)+1)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DecodeLabeled 将训练表格解码为带标签的记录
func DecodeLabeled(t *Table, opts ReadOptions) ([]LabeledRecord, error) {
	columns := t.Columns()
	if opts.PositionalHeader && len(columns) == len(DatasetColumns()) && CheckColumns(columns, DatasetColumns()) != nil {
		columns = DatasetColumns()
	}
	if err := CheckColumns(columns, DatasetColumns()); err != nil {
		return nil, err
	}

	dec, err := csvutil.NewDecoder(&rowReader{rows: t.Rows}, columns...)
	if err != nil {
		return nil, eris.Wrap(err, "csv decoder")
	}

	records := make([]LabeledRecord, 0, len(t.Rows))
	for {
		var rec LabeledRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "decode row %d", len(records)+1)
		}
		records = append(records, rec)
	}
	return records, nil
}

// rowReader 让内存表格满足 csvutil.Reader
type rowReader struct {
	rows [][]string
	next int
}

func (r *rowReader) Read() ([]string, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.next]
	r.next++
	return row, nil
}

func textDecoder(name string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "utf-16", "utf16":
		return unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	}
	return nil, eris.Errorf("unsupported text encoding %q", name)
}

func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	return cells[:end]
}

func padRow(cells []string, width int) []string {
	if len(cells) >= width {
		return cells[:width]
	}
	out := make([]string, width)
	copy(out, cells)
	return out
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
