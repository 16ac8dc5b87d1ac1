// Package pipelinetest builds deterministic synthetic groundwater datasets for tests.
package pipelinetest

import (
	"bytes"
	"encoding/csv"
	"math/rand"

	"gwpotential/pipeline"
)

var (
	soilTextures = []string{"Clay", "Loam", "Sand", "Silt"}
	soilColours  = []string{"Black", "Brown", "Grey", "Red"}
	geology      = []string{"Basalt", "Gneiss", "Granite", "Schist"}
	elevations   = []string{"High", "Low", "Medium"}
	vigour       = []string{"Good", "Moderate", "Poor"}
	heights      = []string{"Medium", "Short", "Tall"}
	drainage     = []string{"High", "Low", "Medium"}
)

// HighRecord is labeled "High Potential" in every synthetic dataset.
var HighRecord = pipeline.Record{
	SoilTexture:        "Loam",
	SoilColour:         "Brown",
	GeologicalFeatures: "Granite",
	Elevation:          "High",
	TreeVigour:         "Good",
	TreeHeight:         "Tall",
	DrainageDensity:    "Low",
}

// LowRecord is labeled "Low Potential" in every synthetic dataset.
var LowRecord = pipeline.Record{
	SoilTexture:        "Sand",
	SoilColour:         "Red",
	GeologicalFeatures: "Basalt",
	Elevation:          "High",
	TreeVigour:         "Poor",
	TreeHeight:         "Short",
	DrainageDensity:    "High",
}

// Score is the hidden rule behind the synthetic labels; soil fields are noise.
func Score(r pipeline.Record) int {
	score := 0
	switch r.GeologicalFeatures {
	case "Granite":
		score += 2
	case "Gneiss":
		score++
	}
	switch r.Elevation {
	case "Low":
		score += 2
	case "Medium", "High":
		score++
	}
	switch r.TreeVigour {
	case "Good":
		score += 2
	case "Moderate":
		score++
	}
	switch r.TreeHeight {
	case "Tall":
		score += 2
	case "Medium":
		score++
	}
	switch r.DrainageDensity {
	case "Low":
		score += 2
	case "Medium":
		score++
	}
	return score
}

// Label applies the hidden rule.
func Label(r pipeline.Record) string {
	if Score(r) >= 6 {
		return pipeline.LabelHigh
	}
	return pipeline.LabelLow
}

// Records draws n random records plus copies of HighRecord and LowRecord.
func Records(n int, seed int64) []pipeline.Record {
	rnd := rand.New(rand.NewSource(seed))
	pick := func(values []string) string { return values[rnd.Intn(len(values))] }

	out := make([]pipeline.Record, 0, n+10)
	for i := 0; i < n; i++ {
		out = append(out, pipeline.Record{
			SoilTexture:        pick(soilTextures),
			SoilColour:         pick(soilColours),
			GeologicalFeatures: pick(geology),
			Elevation:          pick(elevations),
			TreeVigour:         pick(vigour),
			TreeHeight:         pick(heights),
			DrainageDensity:    pick(drainage),
		})
	}
	for i := 0; i < 5; i++ {
		out = append(out, HighRecord, LowRecord)
	}
	return out
}

// Dataset returns a labeled dataset built from Records.
func Dataset(n int, seed int64) *pipeline.Dataset {
	records := Records(n, seed)
	ds := &pipeline.Dataset{
		Records: records,
		Labels:  make([]int, len(records)),
	}
	for i, r := range records {
		ds.Labels[i], _ = pipeline.ParseLabel(Label(r))
	}
	return ds
}

// CSV renders the dataset in the original column layout (label first).
func CSV(n int, seed int64) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(pipeline.DatasetColumns())
	for _, r := range Records(n, seed) {
		_ = w.Write(append([]string{Label(r)}, r.Values()...))
	}
	w.Flush()
	return buf.Bytes()
}

// Table returns an unlabeled table of the given records.
func Table(records []pipeline.Record) *pipeline.Table {
	t := &pipeline.Table{Header: pipeline.PredictorFields()}
	for _, r := range records {
		t.Rows = append(t.Rows, r.Values())
	}
	return t
}
