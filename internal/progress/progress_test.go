package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestScanTrackerSwitchesStages(t *testing.T) {
	var buf bytes.Buffer
	s := &ScanTracker{w: &buf}

	s.Update("history", 0, 2, "core")
	if s.current == nil || s.stage != "history" {
		t.Fatal("expected a history spinner")
	}
	history := s.current

	s.Update("history", 1, 2, "tools")
	if s.current != history {
		t.Error("same stage should reuse the tracker")
	}

	s.Update("scoring", 1, 10, "abc")
	if s.current == history || s.stage != "scoring" {
		t.Error("new stage should replace the tracker")
	}

	s.Finish()
	if s.current != nil {
		t.Error("Finish should clear the tracker")
	}
	s.Finish()
}

func TestTrackerFinishError(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker(&buf, "Scoring", 3)
	tr.Tick()
	tr.FinishError(errors.New("boom"))

	if !strings.Contains(buf.String(), "Scoring error: boom") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
