package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Tracker wraps a progress bar.
type Tracker struct {
	bar   *progressbar.ProgressBar
	label string
	w     io.Writer
}

// NewSpinner creates a spinner for operations with unknown total count.
func NewSpinner(label string) *Tracker {
	return newSpinner(os.Stderr, label)
}

func newSpinner(w io.Writer, label string) *Tracker {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	return &Tracker{bar: bar, label: label, w: w}
}

// NewTracker creates a progress bar with the given label and total count.
func NewTracker(label string, total int) *Tracker {
	return newTracker(os.Stderr, label, total)
}

func newTracker(w io.Writer, label string, total int) *Tracker {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Tracker{bar: bar, label: label, w: w}
}

// Tick increments the progress by 1.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// Set moves the bar to n.
func (t *Tracker) Set(n int) {
	t.bar.Set(n)
}

// Describe replaces the label shown next to the bar.
func (t *Tracker) Describe(label string) {
	t.bar.Describe(label)
}

// FinishSuccess clears the bar completely (no output).
func (t *Tracker) FinishSuccess() {
	t.bar.Finish()
	t.bar.Clear()
}

// FinishError clears the bar and prints an error message.
func (t *Tracker) FinishError(err error) {
	t.bar.Finish()
	t.bar.Clear()
	fmt.Fprintf(t.w, "  %s error: %v\n", t.label, err)
}

// ScanTracker draws a spinner while repository histories are read and a
// counting bar while commits are scored. Update matches the scan service's
// progress callback.
type ScanTracker struct {
	w       io.Writer
	stage   string
	current *Tracker
}

// NewScanTracker creates a tracker writing to stderr.
func NewScanTracker() *ScanTracker {
	return &ScanTracker{w: os.Stderr}
}

// Update reports progress for a stage.
func (s *ScanTracker) Update(stage string, current, total int, detail string) {
	if stage != s.stage {
		s.Finish()
		s.stage = stage
		if stage == "scoring" {
			s.current = newTracker(s.w, "Scoring commits", total)
		} else {
			s.current = newSpinner(s.w, "Reading history")
		}
	}
	if stage == "scoring" {
		s.current.Set(current)
		return
	}
	if detail != "" {
		s.current.Describe("Reading " + detail)
	}
	s.current.Tick()
}

// Finish clears whatever bar is showing.
func (s *ScanTracker) Finish() {
	if s.current != nil {
		s.current.FinishSuccess()
		s.current = nil
	}
}
