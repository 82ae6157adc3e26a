// Package report renders scan results as a standalone HTML page.
package report

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/panbanda/convergence/internal/schema"
	"github.com/panbanda/convergence/pkg/models"
)

//go:embed template.html
var templateFS embed.FS

// timelineRows caps how many observed buckets the capability table shows.
const timelineRows = 12

// Renderer handles HTML report generation.
type Renderer struct {
	tmpl    *template.Template
	version string
}

// NewRenderer creates a renderer with the embedded template.
func NewRenderer(version string) (*Renderer, error) {
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"title": cases.Title(language.English).String,
		"num": func(n any) string {
			switch v := n.(type) {
			case int:
				return printer.Sprintf("%d", v)
			case float64:
				return printer.Sprintf("%.1f", v)
			default:
				return "0"
			}
		},
		"pct": func(v float64) string {
			return printer.Sprintf("%.1f%%", v)
		},
		"date": func(t any) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format("2006-01-02")
			case *time.Time:
				if v == nil {
					return "-"
				}
				return v.Format("2006-01-02")
			default:
				return "-"
			}
		},
		"gradeClass": func(g models.FactorGrade) string {
			return gradeClass(string(g))
		},
		"statusClass": func(s models.FitStatus) string {
			if s == models.FitOK {
				return "good"
			}
			return "warning"
		},
		"json": func(v any) template.JS {
			b, _ := json.Marshal(v)
			return template.JS(b)
		},
	}

	tmplContent, err := templateFS.ReadFile("template.html")
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(string(tmplContent))
	if err != nil {
		return nil, err
	}

	return &Renderer{tmpl: tmpl, version: version}, nil
}

func gradeClass(level string) string {
	switch level {
	case "high", "good":
		return "good"
	case "medium", "fair":
		return "warning"
	default:
		return "danger"
	}
}

// Render writes the HTML page for result.
func (r *Renderer) Render(result *models.ScanResult, meta Metadata, w io.Writer) error {
	if meta.Title == "" {
		meta.Title = "Convergence"
	}
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = result.GeneratedAt
	}
	if meta.Version == "" {
		meta.Version = r.version
	}
	return r.tmpl.Execute(w, r.renderData(result, meta))
}

// RenderFile renders a saved JSON scan result. The file is checked against
// the result schema first.
func (r *Renderer) RenderFile(inputPath string, w io.Writer) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	result, err := LoadResult(data)
	if err != nil {
		return fmt.Errorf("%s: %w", inputPath, err)
	}
	return r.Render(result, Metadata{Source: inputPath}, w)
}

// LoadResult validates and decodes a JSON scan result.
func LoadResult(data []byte) (*models.ScanResult, error) {
	if err := schema.Validate(data); err != nil {
		return nil, err
	}
	var result models.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *Renderer) renderData(result *models.ScanResult, meta Metadata) *RenderData {
	data := &RenderData{
		Metadata:        meta,
		Result:          result,
		ConfidenceClass: gradeClass(string(result.Estimate.Confidence)),
		Categories:      categoryTotals(result.PerCategory),
	}
	if !result.Estimate.Determined {
		data.ConfidenceClass = "danger"
	}
	if fit, ok := result.Fit("capability"); ok {
		data.Capability = &fit
	}
	data.Timeline = buildTimeline(result, data.Capability)
	return data
}

func categoryTotals(series []models.Series) []models.CategoryCount {
	var out []models.CategoryCount
	for _, s := range series {
		last := s.Last()
		if last.CumulativeCommits == 0 {
			continue
		}
		out = append(out, models.CategoryCount{Name: s.Name, Score: last.Cumulative, Commits: last.CumulativeCommits})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// buildTimeline lists the most recent observed buckets of the combined
// series followed by the capability projection.
func buildTimeline(result *models.ScanResult, capability *models.FitReport) []TimelineRow {
	points := result.Combined.Points
	if len(points) > timelineRows {
		points = points[len(points)-timelineRows:]
	}

	var asymptote float64
	if capability != nil && capability.Logistic != nil {
		asymptote = capability.Logistic.L
	}

	rows := make([]TimelineRow, 0, len(points))
	for _, p := range points {
		row := TimelineRow{Date: p.Start, Cumulative: p.Cumulative}
		if asymptote > 0 {
			row.Percent = p.Cumulative / asymptote * 100
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 || capability == nil {
		return rows
	}
	for _, p := range capability.Projection {
		rows = append(rows, TimelineRow{
			Date:       p.Date,
			Cumulative: p.Value,
			Percent:    p.PercentOfAsymptote,
			Projected:  true,
		})
	}
	return rows
}

// RenderToFile renders a saved result into outputPath.
func (r *Renderer) RenderToFile(inputPath, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return r.RenderFile(inputPath, f)
}
