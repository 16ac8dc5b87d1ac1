package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

const sampleCSV = `Decision,Soil.Texture,Soil.Colour,Geological.Features,Elevation,Natural.vegetation.tree.vigour,Natural.vegetation.tree.height,Drainage.Density
High Potential,Loam,Brown,Granite,High,Good,Tall,Low
Low Potential,Sand,Red,Basalt,High,Poor,Short,High
`

func TestReadCSV(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, DatasetColumns(), table.Columns())
}

func TestReadCSV_Semicolon(t *testing.T) {
	data := strings.ReplaceAll(sampleCSV, ",", ";")
	table, err := ReadCSV(strings.NewReader(data), ReadOptions{Delimiter: ";"})
	require.NoError(t, err)

	rows, err := DecodeLabeled(table, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Granite", rows[0].GeologicalFeatures)
}

func TestReadCSV_UTF8BOM(t *testing.T) {
	table, err := ReadCSV(strings.NewReader("\ufeff"+sampleCSV), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, LabelColumn, table.Columns()[0])
}

func TestReadCSV_Windows1252(t *testing.T) {
	data := strings.Replace(sampleCSV, "Brown", "Brún", 1)
	encoded, err := charmap.Windows1252.NewEncoder().String(data)
	require.NoError(t, err)

	table, err := ReadCSV(strings.NewReader(encoded), ReadOptions{Encoding: "windows-1252"})
	require.NoError(t, err)
	records, err := DecodeLabeled(table, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Brún", records[0].SoilColour)
}

func TestReadCSV_UnknownEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(sampleCSV), ReadOptions{Encoding: "ebcdic"})
	assert.Error(t, err)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), ReadOptions{})
	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestDecodeLabeled_LegacyHeader(t *testing.T) {
	data := `Decision,Soil.Texture,Soil.Color,Geological.Features,Elevation,Natural.vegitation..tree..vigour,Natural.vegitation..tree..height,Drainage.Density
High Potential,Loam,Brown,Granite,High,Good,Tall,Low
`
	table, err := ReadCSV(strings.NewReader(data), ReadOptions{})
	require.NoError(t, err)

	rows, err := DecodeLabeled(table, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Good", rows[0].TreeVigour)
	assert.Equal(t, "Tall", rows[0].TreeHeight)
	assert.Equal(t, "Brown", rows[0].SoilColour)
}

func TestDecodeLabeled_ColumnOrderIndependent(t *testing.T) {
	data := `Drainage.Density,Elevation,Decision,Soil.Colour,Soil.Texture,Geological.Features,Natural.vegetation.tree.height,Natural.vegetation.tree.vigour
Low,High,High Potential,Brown,Loam,Granite,Tall,Good
`
	table, err := ReadCSV(strings.NewReader(data), ReadOptions{})
	require.NoError(t, err)

	rows, err := DecodeLabeled(table, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "High Potential", rows[0].Decision)
	assert.Equal(t, "Loam", rows[0].SoilTexture)
	assert.Equal(t, "Good", rows[0].TreeVigour)
	assert.Equal(t, "Low", rows[0].DrainageDensity)
}

func TestDecodeLabeled_PositionalHeader(t *testing.T) {
	data := `a,b,c,d,e,f,g,h
High Potential,Loam,Brown,Granite,High,Good,Tall,Low
`
	table, err := ReadCSV(strings.NewReader(data), ReadOptions{})
	require.NoError(t, err)

	_, err = DecodeLabeled(table, ReadOptions{})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))

	rows, err := DecodeLabeled(table, ReadOptions{PositionalHeader: true})
	require.NoError(t, err)
	assert.Equal(t, "Granite", rows[0].GeologicalFeatures)
}

func TestDecodeRecords_MissingColumn(t *testing.T) {
	table := &Table{
		Header: []string{FieldSoilTexture, FieldSoilColour},
		Rows:   [][]string{{"Loam", "Brown"}},
	}
	_, err := DecodeRecords(table)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Missing, FieldGeologicalFeatures)
	assert.NotContains(t, schemaErr.Missing, FieldSoilTexture)
}

func TestDecodeRecords_IgnoresExtraColumns(t *testing.T) {
	header := append(PredictorFields(), "Notes")
	table := &Table{
		Header: header,
		Rows:   [][]string{{"Loam", "Brown", "Granite", "High", "Good", "Tall", "Low", "field visit"}},
	}
	records, err := DecodeRecords(table)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Low", records[0].DrainageDensity)
}

func TestCheckColumns_Duplicate(t *testing.T) {
	columns := append(PredictorFields(), FieldElevation)
	err := CheckColumns(columns, PredictorFields())

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{FieldElevation}, schemaErr.Duplicate)
	assert.Empty(t, schemaErr.Missing)
}

func TestReadXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("data")
	require.NoError(t, err)

	header := sheet.AddRow()
	for _, c := range DatasetColumns() {
		header.AddCell().SetString(c)
	}
	row := sheet.AddRow()
	for _, v := range []string{"High Potential", "Loam", "Brown", "Granite", "High", "Good", "Tall", "Low"} {
		row.AddCell().SetString(v)
	}
	sheet.AddRow()

	var buf strings.Builder
	require.NoError(t, f.Write(&buf))

	table, err := ReadBytes("dataset.xlsx", []byte(buf.String()), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	rows, err := DecodeLabeled(table, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Tall", rows[0].TreeHeight)
}

func TestReadBytes_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   string
		format string
	}{
		{"ragged row", "ragged.csv", "Soil.Texture,Elevation\nLoam,High,Extra\n", "csv"},
		{"bare quote", "quote.csv", "Soil.Texture,Elevation\nLo\"am,High\n", "csv"},
		{"not a workbook", "sheet.xlsx", "Soil.Texture,Elevation\n", "xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBytes(tt.file, []byte(tt.data), ReadOptions{})
			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			assert.Equal(t, tt.format, formatErr.Format)
			assert.Contains(t, formatErr.Error(), "malformed "+tt.format)
		})
	}
}
