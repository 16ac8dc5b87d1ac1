package pipeline

import (
	"fmt"
)

// Record 一行预测字段取值（原始记录）
type Record struct {
	SoilTexture        string `csv:"Soil.Texture" json:"Soil.Texture"`
	SoilColour         string `csv:"Soil.Colour" json:"Soil.Colour"`
	GeologicalFeatures string `csv:"Geological.Features" json:"Geological.Features"`
	Elevation          string `csv:"Elevation" json:"Elevation"`
	TreeVigour         string `csv:"Natural.vegetation.tree.vigour" json:"Natural.vegetation.tree.vigour"`
	TreeHeight         string `csv:"Natural.vegetation.tree.height" json:"Natural.vegetation.tree.height"`
	DrainageDensity    string `csv:"Drainage.Density" json:"Drainage.Density"`
}

// LabeledRecord 训练数据行：记录加标签
type LabeledRecord struct {
	Decision string `csv:"Decision"`
	Record
}

func (r *Record) field(name string) (*string, error) {
	switch name {
	case FieldSoilTexture:
		return &r.SoilTexture, nil
	case FieldSoilColour:
		return &r.SoilColour, nil
	case FieldGeologicalFeatures:
		return &r.GeologicalFeatures, nil
	case FieldElevation:
		return &r.Elevation, nil
	case FieldTreeVigour:
		return &r.TreeVigour, nil
	case FieldTreeHeight:
		return &r.TreeHeight, nil
	case FieldDrainageDensity:
		return &r.DrainageDensity, nil
	}
	return nil, &SchemaError{Detail: fmt.Sprintf("unknown field %q", name)}
}

// Get 按字段名读取
func (r Record) Get(name string) (string, error) {
	p, err := r.field(name)
	if err != nil {
		return "", err
	}
	return *p, nil
}

// Set 按字段名写入
func (r *Record) Set(name, value string) error {
	p, err := r.field(name)
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// Values 按规范顺序返回全部字段值
func (r Record) Values() []string {
	return []string{
		r.SoilTexture,
		r.SoilColour,
		r.GeologicalFeatures,
		r.Elevation,
		r.TreeVigour,
		r.TreeHeight,
		r.DrainageDensity,
	}
}

// Map 以字段名为键返回全部取值
func (r Record) Map() map[string]string {
	values := r.Values()
	out := make(map[string]string, len(values))
	for i, f := range predictorFields {
		out[f] = values[i]
	}
	return out
}

// RecordFromMap 由字段映射构造记录；未知字段返回 SchemaError
func RecordFromMap(values map[string]string) (Record, error) {
	var rec Record
	for name, v := range values {
		if err := rec.Set(CanonicalColumn(name), v); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// Validate 检查所有字段都已填写
func (r Record) Validate() error {
	var missing []string
	for i, v := range r.Values() {
		if v == "" {
			missing = append(missing, predictorFields[i])
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing, Detail: "record has empty fields"}
	}
	return nil
}
