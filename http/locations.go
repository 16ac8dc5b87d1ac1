package http

import (
	"fmt"
	"strconv"
	"strings"

	"gwpotential/db"
)

// Country 表单支持的国家
const Country = "Zimbabwe"

// Province 省份及其下辖区
type Province struct {
	Name      string   `json:"name"`
	Districts []string `json:"districts"`
}

var provinces = []Province{
	{Name: "Midlands Province", Districts: []string{"Gweru", "Kwekwe", "Shurugwi"}},
	{Name: "Masvingo Province", Districts: []string{"Masvingo", "Chiredzi", "Mwenezi"}},
}

// Provinces 返回省份列表副本
func Provinces() []Province {
	out := make([]Province, len(provinces))
	for i, p := range provinces {
		out[i] = Province{Name: p.Name, Districts: append([]string(nil), p.Districts...)}
	}
	return out
}

// LocationError 位置信息不合法
type LocationError struct {
	Field string
	Value string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// ValidateLocation 位置为可选项；填写时必须属于已知的省/区
func ValidateLocation(loc db.Location) error {
	if loc.Country != "" && loc.Country != Country {
		return &LocationError{Field: "country", Value: loc.Country}
	}
	if loc.District != "" && loc.Province == "" {
		return &LocationError{Field: "district", Value: loc.District}
	}
	if loc.Province != "" {
		var found *Province
		for i := range provinces {
			if provinces[i].Name == loc.Province {
				found = &provinces[i]
			}
		}
		if found == nil {
			return &LocationError{Field: "province", Value: loc.Province}
		}
		if loc.District != "" && !contains(found.Districts, loc.District) {
			return &LocationError{Field: "district", Value: loc.District}
		}
	}
	if loc.Latitude != "" {
		if v, err := strconv.ParseFloat(loc.Latitude, 64); err != nil || v < -90 || v > 90 {
			return &LocationError{Field: "latitude", Value: loc.Latitude}
		}
	}
	if loc.Longitude != "" {
		if v, err := strconv.ParseFloat(loc.Longitude, 64); err != nil || v < -180 || v > 180 {
			return &LocationError{Field: "longitude", Value: loc.Longitude}
		}
	}
	return nil
}

// ParseCoordinates 解析 "lat, lon" 文本
func ParseCoordinates(text string) (lat, lon string, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", nil
	}
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return "", "", &LocationError{Field: "coordinates", Value: text}
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
