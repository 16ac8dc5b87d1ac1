package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gwpotential/db"
	"gwpotential/inference"
	"gwpotential/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageSet 每个页面单独解析，共享 layout
type pageSet struct {
	pages map[string]*template.Template
}

var pageFuncs = template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
	"fixed":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"isHigh":  func(label string) bool { return label == pipeline.LabelHigh },
	"selected": func(current, option string) bool {
		return current == option
	},
}

func mustLoadPages() *pageSet {
	ps := &pageSet{pages: make(map[string]*template.Template)}
	for _, name := range []string{"index.html", "result.html", "about.html"} {
		t := template.Must(template.New("layout.html").Funcs(pageFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name))
		ps.pages[name] = t
	}
	return ps
}

func (ps *pageSet) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := ps.pages[name].Execute(&buf, data); err != nil {
		zap.L().Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type formPage struct {
	RunID     string
	Fields    []formField
	Values    map[string]string
	Country   string
	Provinces []Province
	Location  db.Location
	Coords    string
	Error     string
}

func (h *Handlers) newFormPage() formPage {
	fields := h.formFields()
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Name] = f.Default
	}
	return formPage{
		RunID:     h.model.RunID(),
		Fields:    fields,
		Values:    values,
		Country:   Country,
		Provinces: Provinces(),
	}
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "index.html", h.newFormPage())
}

type resultPage struct {
	RunID      string
	Prediction *inference.Prediction
	Features   []string
	Location   db.Location
}

func (h *Handlers) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	page := h.newFormPage()
	if err := r.ParseForm(); err != nil {
		page.Error = "invalid form submission"
		h.pages.render(w, http.StatusBadRequest, "index.html", page)
		return
	}

	values := make(map[string]string)
	for _, f := range page.Fields {
		v := strings.TrimSpace(r.PostForm.Get(f.Name))
		values[f.Name] = v
		page.Values[f.Name] = v
	}
	page.Location = db.Location{
		Country:  strings.TrimSpace(r.PostForm.Get("country")),
		Province: strings.TrimSpace(r.PostForm.Get("province")),
		District: strings.TrimSpace(r.PostForm.Get("district")),
	}
	page.Coords = r.PostForm.Get("coordinates")
	lat, lon, err := ParseCoordinates(page.Coords)
	if err == nil {
		page.Location.Latitude, page.Location.Longitude = lat, lon
		var pred *inference.Prediction
		pred, err = h.predict(r.Context(), "form", values, page.Location)
		if err == nil {
			h.pages.render(w, http.StatusOK, "result.html", resultPage{
				RunID:      h.model.RunID(),
				Prediction: pred,
				Features:   h.model.Features(),
				Location:   page.Location,
			})
			return
		}
	}

	status, kind := statusFor(err)
	h.observeError("form", kind)
	if status >= http.StatusInternalServerError {
		zap.L().Error("form prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		page.Error = "System error: the prediction could not be computed."
	} else {
		page.Error = userMessage(err)
	}
	h.pages.render(w, status, "index.html", page)
}

type aboutField struct {
	Name     string
	Selected bool
	Decision string
	Options  []string
	Mode     string
}

type aboutPage struct {
	Model  modelResponse
	Fields []aboutField
	Report string
}

func (h *Handlers) handleAbout(w http.ResponseWriter, r *http.Request) {
	model := h.describeModel()
	decisions := make(map[string]string, len(model.Selection))
	for _, s := range model.Selection {
		decisions[s.Name] = s.Decision
	}

	page := aboutPage{Model: model}
	for _, f := range pipeline.PredictorFields() {
		page.Fields = append(page.Fields, aboutField{
			Name:     f,
			Selected: h.model.IsFeature(f),
			Decision: decisions[f],
			Options:  h.model.Options(f),
			Mode:     h.model.Mode(f),
		})
	}
	if model.Evaluation != nil {
		page.Report = model.Evaluation.Report()
	}
	h.pages.render(w, http.StatusOK, "about.html", page)
}
