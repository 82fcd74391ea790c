package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/patchscan/internal/engine"
)

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m ScanModel, msg tea.Msg) (ScanModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	sm, ok := next.(ScanModel)
	require.True(t, ok)
	return sm, cmd
}

func TestScanModel_Results(t *testing.T) {
	m := NewScanModel("scan ./fw", 4)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m, _ = update(t, m, ResultMsg{ID: "CVE-2017-0001", Class: engine.ClassPatched})
	m, _ = update(t, m, ResultMsg{ID: "CVE-2017-0002", Class: engine.ClassMissing})
	m, _ = update(t, m, ResultMsg{ID: "CVE-2017-0003", Class: engine.ClassMissing})

	assert.Equal(t, 3, m.Done)
	assert.Equal(t, 2, m.Counts.Missing)
	assert.InDelta(t, 0.75, m.Percent(), 1e-9)
	assert.False(t, m.Finished)

	view := m.View()
	assert.Contains(t, view, "Classifying 3/4")
	assert.Contains(t, view, "CVE-2017-0002")
	assert.Contains(t, view, AppName)
}

func TestScanModel_Filter(t *testing.T) {
	m := NewScanModel("scan", 3)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, _ = update(t, m, ResultMsg{ID: "CVE-A", Class: engine.ClassPatched})
	m, _ = update(t, m, ResultMsg{ID: "CVE-B", Class: engine.ClassMissing})
	m, _ = update(t, m, ResultMsg{ID: "CVE-C", Class: engine.ClassInconclusive})

	tests := []struct {
		key  string
		want engine.Class
		ids  []string
	}{
		{"f", engine.ClassMissing, []string{"CVE-B"}},
		{"t", engine.ClassPatched, []string{"CVE-A"}},
		{"_", engine.ClassInconclusive, []string{"CVE-C"}},
		{"d", engine.ClassClaimed, nil},
		{"a", 0, []string{"CVE-A", "CVE-B", "CVE-C"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, _ = update(t, m, keyPress(tt.key))
			assert.Equal(t, tt.want, m.Filter)

			var ids []string
			for _, r := range m.Visible() {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestScanModel_Finished(t *testing.T) {
	m := NewScanModel("scan", 1)
	results := map[string]engine.Class{"CVE-2017-0001": engine.ClassClaimed}
	report := &engine.Report{Results: results, Summary: engine.Summarize(results)}

	m, cmd := update(t, m, FinishedMsg{Report: report})
	assert.True(t, m.Finished)
	assert.Nil(t, cmd, "dashboard stays open for browsing")
	assert.Equal(t, 1, m.Counts.Claimed)
	assert.Contains(t, m.View(), "1 vulnerabilities classified")

	m = NewScanModel("scan", 1)
	m.ExitWhenDone = true
	m, cmd = update(t, m, FinishedMsg{Err: errors.New("boom")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Run stopped: boom")
}

func TestScanModel_Quit(t *testing.T) {
	m := NewScanModel("scan", 1)
	_, cmd := update(t, m, keyPress("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestScanModel_PercentWithoutTotal(t *testing.T) {
	m := NewScanModel("scan", 0)
	assert.Equal(t, 0.0, m.Percent())
	m.Finished = true
	assert.Equal(t, 1.0, m.Percent())
}

func TestRun(t *testing.T) {
	var out bytes.Buffer
	results := map[string]engine.Class{
		"CVE-2017-0001": engine.ClassPatched,
		"CVE-2017-0002": engine.ClassMissing,
	}

	report, err := Run(context.Background(), RunConfig{
		Title:        "scan",
		Total:        2,
		Output:       &out,
		NoInput:      true,
		ExitWhenDone: true,
	}, func(ctx context.Context, onResult func(engine.Result)) (*engine.Report, error) {
		for id, c := range results {
			onResult(engine.Result{ID: id, Class: c, Duration: time.Millisecond})
		}
		return &engine.Report{RunID: "run-1", Results: results, Summary: engine.Summarize(results)}, nil
	})

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "run-1", report.RunID)
	assert.True(t, strings.Contains(out.String(), AppName), "dashboard was not rendered")
}

func TestRun_ScanError(t *testing.T) {
	scanErr := errors.New("catalog vanished")
	_, err := Run(context.Background(), RunConfig{
		Output:       &bytes.Buffer{},
		NoInput:      true,
		ExitWhenDone: true,
	}, func(ctx context.Context, onResult func(engine.Result)) (*engine.Report, error) {
		return nil, scanErr
	})
	assert.ErrorIs(t, err, scanErr)
}

func TestCalculateWidth(t *testing.T) {
	assert.Equal(t, MinTerminalWidth, CalculateWidth(10))
	assert.Equal(t, 100, CalculateWidth(100))
	assert.Equal(t, MaxContentWidth, CalculateWidth(500))
}
