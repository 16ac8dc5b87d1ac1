package ml

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

type OrdinalEncoder struct {
	Columns    []string   `json:"columns"`
	Categories [][]string `json:"categories"`

	index []map[string]int
}

func NewOrdinalEncoder(columns []string) *OrdinalEncoder {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &OrdinalEncoder{Columns: cols}
}

func (e *OrdinalEncoder) Fit(rows [][]string) error {
	if len(rows) == 0 {
		return errEmptyInput
	}
	if len(e.Columns) == 0 {
		return eris.New("encoder has no columns")
	}

	seen := make([]map[string]struct{}, len(e.Columns))
	for j := range seen {
		seen[j] = make(map[string]struct{})
	}
	for i, row := range rows {
		if len(row) != len(e.Columns) {
			return eris.Errorf("row %d has %d values, want %d", i+1, len(row), len(e.Columns))
		}
		for j, v := range row {
			seen[j][v] = struct{}{}
		}
	}

	e.Categories = make([][]string, len(e.Columns))
	for j := range e.Columns {
		values := make([]string, 0, len(seen[j]))
		for v := range seen[j] {
			values = append(values, v)
		}
		sort.Strings(values)
		e.Categories[j] = values
	}
	e.buildIndex()
	return nil
}

func (e *OrdinalEncoder) Transform(rows [][]string) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errEmptyInput
	}
	if e.index == nil {
		return nil, errNotTrained
	}

	out := mat.NewDense(len(rows), len(e.Columns), nil)
	for i, row := range rows {
		if err := e.encodeInto(i, row, out.RawRowView(i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *OrdinalEncoder) FitTransform(rows [][]string) (*mat.Dense, error) {
	if err := e.Fit(rows); err != nil {
		return nil, err
	}
	return e.Transform(rows)
}

func (e *OrdinalEncoder) Encode(row []string) ([]float64, error) {
	if e.index == nil {
		return nil, errNotTrained
	}
	out := make([]float64, len(e.Columns))
	if err := e.encodeInto(NoRow, row, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OrdinalEncoder) ColumnIndex(name string) int {
	for j, c := range e.Columns {
		if c == name {
			return j
		}
	}
	return -1
}

func (e *OrdinalEncoder) encodeInto(rowIdx int, row []string, dst []float64) error {
	if len(row) != len(e.Columns) {
		if rowIdx == NoRow {
			return eris.Errorf("record has %d values, want %d", len(row), len(e.Columns))
		}
		return eris.Errorf("row %d has %d values, want %d", rowIdx+1, len(row), len(e.Columns))
	}
	for j, v := range row {
		code, ok := e.index[j][v]
		if !ok {
			return &UnseenCategoryError{Column: e.Columns[j], Value: v, Row: rowIdx}
		}
		dst[j] = float64(code)
	}
	return nil
}

func (e *OrdinalEncoder) buildIndex() {
	e.index = make([]map[string]int, len(e.Categories))
	for j, values := range e.Categories {
		e.index[j] = make(map[string]int, len(values))
		for code, v := range values {
			e.index[j][v] = code
		}
	}
}

func (e *OrdinalEncoder) UnmarshalJSON(data []byte) error {
	type plain OrdinalEncoder
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.Columns) != len(p.Categories) {
		return eris.Errorf("encoder has %d columns but %d category lists", len(p.Columns), len(p.Categories))
	}
	for j, values := range p.Categories {
		if !sort.StringsAreSorted(values) {
			return eris.Errorf("categories for %q are not sorted", p.Columns[j])
		}
	}
	*e = OrdinalEncoder(p)
	e.buildIndex()
	return nil
}

// SelectColumns copies the listed columns of X in the given order.
func SelectColumns(X *mat.Dense, cols []int) *mat.Dense {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		src := X.RawRowView(i)
		dst := out.RawRowView(i)
		for k, j := range cols {
			dst[k] = src[j]
		}
	}
	return out
}
