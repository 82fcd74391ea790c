package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/patchscan/internal/engine"
)

func TestHeader_ParamOrder(t *testing.T) {
	h := NewHeader("Firmware Scan", "patchscan scan ./fw",
		Param{Key: "Root", Value: "./fw"},
		Param{Key: "API level", Value: "25"},
	).SetWidth(80)
	h.Add("Patch level", "2017-06-01")

	out := h.Render()
	if !strings.Contains(out, "FIRMWARE SCAN") {
		t.Errorf("header should contain upper-case title, got:\n%s", out)
	}
	root := strings.Index(out, "Root:")
	api := strings.Index(out, "API level:")
	patch := strings.Index(out, "Patch level:")
	if root < 0 || api < 0 || patch < 0 {
		t.Fatalf("missing params in:\n%s", out)
	}
	if !(root < api && api < patch) {
		t.Errorf("params should keep insertion order, got:\n%s", out)
	}
}

func TestResult_Render(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   []string
	}{
		{
			name:   "success",
			result: NewSuccessResult("Scan complete", Param{Key: "Report", Value: "out.json"}),
			want:   []string{"SUCCESS", "Scan complete", "Report:", "out.json"},
		},
		{
			name:   "failure",
			result: NewFailureResult("Scan failed", errors.New("catalog missing"), []string{"Run catalog fetch"}),
			want:   []string{"FAILED", "catalog missing", "Troubleshooting:", "Run catalog fetch"},
		},
		{
			name:   "warning",
			result: NewWarningResult("Old firmware", Param{Key: "API level", Value: "15"}),
			want:   []string{"WARNING", "Old firmware", "15"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.result.SetWidth(80).Render()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("Render() missing %q in:\n%s", w, out)
				}
			}
		})
	}
}

func TestToolOutput_Truncates(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, "line")
	}
	o := NewToolOutput("objdump -d", strings.Join(lines, "\n")).SetWidth(80).SetMaxLines(3)

	out := o.Render()
	if got := strings.Count(out, "line"); got != 3 {
		t.Errorf("rendered %d lines, want 3", got)
	}
	if !strings.Contains(out, "output truncated") {
		t.Error("truncated output should say so")
	}
	if len(o.Lines) != 10 {
		t.Error("Render() must not modify Lines")
	}
}

func TestToolOutput_FilterLines(t *testing.T) {
	o := NewToolOutput("objdump -tT", "0001 g F .text parse\n0002 l O .data table\n0003 g F .text read\n")
	o.FilterLines(" F ")
	if len(o.Lines) != 2 {
		t.Errorf("FilterLines() kept %d lines, want 2", len(o.Lines))
	}
}

func TestProgress_Advance(t *testing.T) {
	p := NewProgress("", 4)
	p.CompleteStep(1, "")
	p.StartStep(2, "")
	p.Advance(50, 100)

	if p.Percent != 0.375 {
		t.Errorf("Percent = %v, want 0.375", p.Percent)
	}
	if !strings.Contains(p.RenderBar(), "[50/100]") {
		t.Errorf("bar should show item counter, got %q", p.RenderBar())
	}

	p.Advance(500, 100)
	if p.Done != 100 {
		t.Errorf("Done = %v, should be clamped to 100", p.Done)
	}

	p.CompleteStep(2, "")
	if p.Percent != 0.5 {
		t.Errorf("Percent = %v, want 0.5", p.Percent)
	}
}

func TestProgress_StepLines(t *testing.T) {
	p := NewProgress("", 2).SetStepNames([]string{"Load catalog", "Classify"})
	p.CompleteStep(1, "412 vulnerabilities")
	p.UpdateStep(2, StepSkipped, "")

	out := p.Render()
	for _, w := range []string{"[1/2] Load catalog", StepMarkerComplete, "(412 vulnerabilities)", StepMarkerSkipped} {
		if !strings.Contains(out, w) {
			t.Errorf("Render() missing %q in:\n%s", w, out)
		}
	}
}

func sampleReport() *engine.Report {
	results := map[string]engine.Class{}
	classes := []engine.Class{engine.ClassPatched, engine.ClassMissing, engine.ClassClaimed, engine.ClassNotAffected, engine.ClassInconclusive}
	for i := 0; i < 30; i++ {
		results[fmt.Sprintf("%02d", i)] = classes[i%len(classes)]
	}
	return &engine.Report{Results: results, Summary: engine.Summarize(results)}
}

func TestRenderClassStrip(t *testing.T) {
	strip := RenderClassStrip(sampleReport().Results, StripWidth)
	rows := strings.Split(strip, "\n")
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2:\n%s", len(rows), strip)
	}
	if w := lipgloss.Width(rows[0]); w != StripWidth {
		t.Errorf("first row width = %d, want %d", w, StripWidth)
	}
	if w := lipgloss.Width(rows[1]); w != 6 {
		t.Errorf("second row width = %d, want 6", w)
	}
	if !strings.HasPrefix(stripANSI(rows[0]), "TFDN_") {
		t.Errorf("strip should follow id order, got %q", stripANSI(rows[0]))
	}

	if RenderClassStrip(nil, 0) != "" {
		t.Error("empty results should render nothing")
	}
}

func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEsc = true
		case inEsc && r == 'm':
			inEsc = false
		case !inEsc:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestSummary_Render(t *testing.T) {
	out := NewSummary(sampleReport(), engine.ClassMissing).SetWidth(80).Render()
	for _, w := range []string{"30 vulnerabilities classified", "Patched:", "Missing:", "NotAffected:", "01", "26"} {
		if !strings.Contains(out, w) {
			t.Errorf("Render() missing %q in:\n%s", w, out)
		}
	}
	if strings.Count(out, "Claimed:") != 1 {
		t.Error("only listed classes should get an id section")
	}
}

func TestRunner_Success(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(RunnerConfig{
		Title:     "Firmware Scan",
		Command:   "patchscan scan ./fw",
		StepNames: []string{"Load catalog", "Classify"},
		Verbose:   true,
		Output:    &buf,
	})

	details, err := r.Run(context.Background(), func(ctx context.Context, onStep StepCallback, onAdvance AdvanceCallback) ([]Param, error) {
		onStep(1, "", StepRunning, "")
		onStep(1, "", StepComplete, "3 vulnerabilities")
		onStep(2, "", StepRunning, "")
		onAdvance(3, 3)
		onStep(2, "", StepComplete, "")
		r.AddToolOutput("objdump -h -w", "Idx Name Size VMA LMA File off Algn")
		return []Param{{Key: "Report", Value: "report.json"}}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(details) != 1 {
		t.Errorf("details = %v", details)
	}

	out := buf.String()
	for _, w := range []string{"FIRMWARE SCAN", "Load catalog", "(3 vulnerabilities)", "Firmware Scan complete", "report.json", "Duration:", "objdump -h -w"} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q in:\n%s", w, out)
		}
	}
	if strings.Contains(out, "\r") {
		t.Error("non-live runner must not redraw lines")
	}
}

func TestRunner_Failure(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(RunnerConfig{Title: "Catalog Fetch", Command: "patchscan catalog fetch", Output: &buf})

	wantErr := errors.New("connection refused")
	_, err := r.Run(context.Background(), func(context.Context, StepCallback, AdvanceCallback) ([]Param, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
	out := buf.String()
	if !strings.Contains(out, "Catalog Fetch failed") || !strings.Contains(out, "patchscan verify-setup") {
		t.Errorf("failure output incomplete:\n%s", out)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := OverwriteConfirmation(strings.NewReader(tt.input), &out, "/tmp/config.yaml")
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Overwrite?") {
			t.Errorf("prompt missing in %q", out.String())
		}
	}
}

func TestClassColor(t *testing.T) {
	if ClassColor(engine.ClassPatched) != SuccessColor {
		t.Error("patched should be success colored")
	}
	if ClassColor(engine.ClassMissing) != ErrorColor {
		t.Error("missing should be error colored")
	}
	if ClassColor(engine.Class('?')) != MutedColor {
		t.Error("unknown classes should be muted")
	}
}
