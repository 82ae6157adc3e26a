package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
)

const dateLayout = "2006-01-02"

// ScanReport renders a scan result.
type ScanReport struct {
	Title  string
	Result *models.ScanResult
}

// NewScanReport wraps result for output.
func NewScanReport(title string, result *models.ScanResult) *ScanReport {
	if title == "" {
		title = "Convergence"
	}
	return &ScanReport{Title: title, Result: result}
}

func (r *ScanReport) RenderData() any {
	return r.Result
}

func (r *ScanReport) RenderText(w io.Writer, colored bool) error {
	return r.report(colored).RenderText(w, colored)
}

func (r *ScanReport) RenderMarkdown(w io.Writer) error {
	return r.report(false).RenderMarkdown(w)
}

func (r *ScanReport) report(colored bool) *Report {
	res := r.Result
	parts := []Renderable{
		r.summary(),
		r.estimate(colored),
	}
	if len(res.Repos) > 0 {
		parts = append(parts, repoTable(res.Repos))
	}
	if len(res.Errors) > 0 {
		rows := make([][]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			rows = append(rows, []string{e.Repo, e.Path, e.Error})
		}
		parts = append(parts, NewTable("Repository Errors", []string{"Repo", "Path", "Error"}, rows, nil, nil))
	}
	parts = append(parts, fitTable(res.Fits, colored))
	if capability, ok := res.Fit("capability"); ok && len(capability.Projection) > 0 {
		parts = append(parts, projectionTable(capability.Projection))
	}
	if t := categoryTable(res.PerCategory); t != nil {
		parts = append(parts, t)
	}
	if len(res.History) > 1 {
		parts = append(parts, historyTable(res.History, colored))
	}
	return &Report{Title: r.Title, Sections: parts, Data: res}
}

func (r *ScanReport) summary() *Section {
	res := r.Result
	s := &Section{Title: "Summary"}
	s.Lines = append(s.Lines, [2]string{"Generated", res.GeneratedAt.Format(time.RFC3339)})
	if res.Inception != nil {
		s.Lines = append(s.Lines, [2]string{"Inception", res.Inception.Format(dateLayout)})
	}
	commits := strconv.Itoa(res.TotalCommits)
	if res.Excluded > 0 {
		commits += fmt.Sprintf(" (%d before inception excluded)", res.Excluded)
	}
	s.Lines = append(s.Lines,
		[2]string{"Commits", commits},
		[2]string{"Capability", fmt.Sprintf("%.1f", res.Combined.Last().Cumulative)},
	)
	if capability, ok := res.Fit("capability"); ok && capability.OK() {
		s.Lines = append(s.Lines, [2]string{"Of asymptote", fmt.Sprintf("%.1f%%", capability.PercentOfAsymptote)})
	}
	s.Lines = append(s.Lines,
		[2]string{"Classification", classificationLine(res.Classification)},
		[2]string{"Cache", fmt.Sprintf("%d hits, %d misses (version %s)", res.Cache.Hits, res.Cache.Misses, res.Cache.Version)},
	)
	return s
}

func classificationLine(st models.ClassificationStats) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(st.Regex, "regex")
	add(st.Semantic, "semantic")
	add(st.SemanticCached, "semantic (cached)")
	add(st.Fallbacks, "fallback")
	if len(parts) == 0 {
		return "none"
	}
	line := strings.Join(parts, ", ")
	if st.Disabled {
		line += "; semantic disabled after repeated failures"
	}
	return line
}

func (r *ScanReport) estimate(colored bool) *Section {
	est := r.Result.Estimate
	s := &Section{Title: "Convergence Estimate"}
	confidence := string(est.Confidence)
	if colored {
		confidence = LevelColor(confidence, confidence)
	}

	if !est.Determined || est.Date == nil {
		s.Lines = append(s.Lines,
			[2]string{"Date", "undetermined"},
			[2]string{"Reason", est.Reason},
		)
		return s
	}

	s.Lines = append(s.Lines,
		[2]string{"Date", fmt.Sprintf("%s (%d days)", est.Date.Format(dateLayout), est.DaysUntil)},
		[2]string{"Target", fmt.Sprintf("%.0f%% of asymptote", est.TargetFraction*100)},
		[2]string{"Confidence", confidence},
	)
	if est.ConsensusDate != nil {
		s.Lines = append(s.Lines, [2]string{"Consensus", est.ConsensusDate.Format(dateLayout)})
	}
	names := make([]string, 0, len(est.ComponentDates))
	for name := range est.ComponentDates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Lines = append(s.Lines, [2]string{"  " + name, est.ComponentDates[name].Format(dateLayout)})
	}
	if f := est.Factors; f != nil {
		s.Lines = append(s.Lines,
			[2]string{"R²", grade(fmt.Sprintf("%.3f", f.RSquared), f.RSquaredGrade, colored)},
			[2]string{"History span", grade(fmt.Sprintf("%.2f×", f.SpanRatio), f.SpanGrade, colored)},
			[2]string{"Agreement", grade(fmt.Sprintf("%.2f", f.Disagreement), f.AgreementGrade, colored)},
		)
	}
	return s
}

func grade(value string, g models.FactorGrade, colored bool) string {
	label := string(g)
	if colored {
		label = LevelColor(label, label)
	}
	return value + " (" + label + ")"
}

func repoTable(repos []models.RepoStats) *Table {
	rows := make([][]string, 0, len(repos))
	for _, r := range repos {
		top := make([]string, 0, len(r.TopCategories))
		for _, c := range r.TopCategories {
			top = append(top, c.Name)
		}
		rows = append(rows, []string{
			r.Name,
			strconv.Itoa(r.Commits),
			fmt.Sprintf("%.1f", r.Capability),
			fmt.Sprintf("%.1f%%", r.CapabilityPercent),
			strings.Join(top, ", "),
			formatDate(r.FirstCommit),
			formatDate(r.LastCommit),
		})
	}
	return NewTable("Repositories",
		[]string{"Repo", "Commits", "Capability", "Share", "Top Categories", "First", "Last"},
		rows, nil, repos)
}

func fitTable(fits []models.FitReport, colored bool) *Table {
	rows := make([][]string, 0, len(fits))
	for _, f := range fits {
		status := string(f.Status)
		if colored {
			status = LevelColor(status, status)
		}
		row := []string{f.Series, status, "-", "-", "-", "-", "-"}
		switch {
		case f.Logistic != nil:
			l := f.Logistic
			row[2] = fmt.Sprintf("%.1f", l.L)
			row[3] = fmt.Sprintf("%.3f", l.K)
			row[4] = l.Midpoint().Format(dateLayout)
			row[5] = fmt.Sprintf("%.3f", l.RSquared)
			row[6] = fmt.Sprintf("%.1f%%", f.PercentOfAsymptote)
		case f.Trend != nil:
			row[3] = fmt.Sprintf("%+.4f/bucket", f.Trend.Slope)
			row[5] = fmt.Sprintf("%.3f", f.Trend.RSquared)
		}
		rows = append(rows, row)
	}
	return NewTable("Growth Fits",
		[]string{"Series", "Status", "L", "k", "Midpoint", "R²", "Of L"},
		rows, nil, fits)
}

func projectionTable(points []models.ProjectionPoint) *Table {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.Date.Format(dateLayout),
			fmt.Sprintf("%.1f", p.Value),
			fmt.Sprintf("%.1f%%", p.PercentOfAsymptote),
		})
	}
	return NewTable("Capability Projection", []string{"Date", "Capability", "Of L"}, rows, nil, points)
}

func categoryTable(series []models.Series) *Table {
	type row struct {
		name    string
		score   float64
		commits int
	}
	var totals []row
	for _, s := range series {
		last := s.Last()
		if last.CumulativeCommits == 0 {
			continue
		}
		totals = append(totals, row{s.Name, last.Cumulative, last.CumulativeCommits})
	}
	if len(totals) == 0 {
		return nil
	}
	sort.SliceStable(totals, func(i, j int) bool { return totals[i].score > totals[j].score })

	rows := make([][]string, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, []string{t.name, strconv.Itoa(t.commits), fmt.Sprintf("%.1f", t.score)})
	}
	return NewTable("Categories", []string{"Category", "Commits", "Score"}, rows, nil, nil)
}

func historyTable(history []models.HistorySnapshot, colored bool) *Table {
	rows := make([][]string, 0, len(history))
	for _, h := range history {
		date := "undetermined"
		if h.ConvergenceDate != nil {
			date = h.ConvergenceDate.Format(dateLayout)
		}
		confidence := string(h.Confidence)
		if colored {
			confidence = LevelColor(confidence, confidence)
		}
		rows = append(rows, []string{
			h.ScanTime.Format("2006-01-02 15:04"),
			date,
			confidence,
			strconv.Itoa(h.TotalCommits),
			fmt.Sprintf("%.1f%%", h.PercentOfAsymptote),
		})
	}
	return NewTable("Scan History",
		[]string{"Scanned", "Convergence", "Confidence", "Commits", "Of L"},
		rows, nil, history)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

// NewHistoryReport renders recorded scans.
func NewHistoryReport(history []models.HistorySnapshot) *Table {
	t := historyTable(history, false)
	if t.Data == nil {
		t.Data = []models.HistorySnapshot{}
	}
	return t
}

// RubricView is the serializable form of a rubric.
type RubricView struct {
	Categories  []rubric.Category `json:"categories"`
	HighLevel   []string          `json:"high_level"`
	MaxScore    float64           `json:"max_score"`
	Fingerprint string            `json:"fingerprint"`
}

// NewRubricReport renders the categories of r in weight order.
func NewRubricReport(r *rubric.Rubric) *Table {
	view := RubricView{
		HighLevel:   r.HighLevel(),
		MaxScore:    r.MaxScore(),
		Fingerprint: r.Fingerprint(),
	}
	rows := make([][]string, 0, r.Len())
	for _, c := range r.Categories() {
		view.Categories = append(view.Categories, *c)
		level := ""
		if r.IsHighLevel(c.Name) {
			level = "yes"
		}
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.Weight),
			level,
			strings.Join(c.Keywords(5), ", "),
		})
	}
	return NewTable("Rubric",
		[]string{"Category", "Weight", "High Level", "Keywords"},
		rows,
		[]string{"", fmt.Sprintf("max %.0f", r.MaxScore()), "", ""},
		view)
}
