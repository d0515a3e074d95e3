package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/ReconMapper/internal/metrics"
)

func TestDisplay_Advance(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.Start("https://a.test/", 3)

	d.Advance("https://a.test/", false)
	d.Advance("https://a.test/x", true)
	d.Stop()
	d.Stop()

	explored, failed := d.Stats()
	if explored != 2 || failed != 1 {
		t.Errorf("Stats() = %d/%d, want 2/1", explored, failed)
	}
}

func TestDisplay_NoWriter(t *testing.T) {
	d := New(nil)
	d.Start("https://a.test/", 1)
	d.Advance("https://a.test/", false)
	d.Stop()

	if explored, _ := d.Stats(); explored != 1 {
		t.Errorf("explored = %d, want 1", explored)
	}
}

func TestDisplay_Nil(t *testing.T) {
	var d *Display
	d.Start("x", 1)
	d.Advance("x", false)
	d.Stop()
	d.PrintSummary(&bytes.Buffer{}, nil)
}

func TestDisplay_PrintSummary(t *testing.T) {
	m := metrics.New()
	m.RecordPageVisited(time.Millisecond)
	m.RecordIngest(4)

	d := New(nil)
	d.Start("https://a.test/", 1)
	var buf bytes.Buffer
	d.PrintSummary(&buf, m.Snapshot())

	out := buf.String()
	for _, want := range []string{"Target:              https://a.test/", "Pages Visited:       1", "Endpoints:           4"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m05s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("https://a.test/very/long/path", 12); got != "https://a..." {
		t.Errorf("truncateURL = %q", got)
	}
	if got := truncateURL("short", 12); got != "short" {
		t.Errorf("truncateURL = %q", got)
	}
}
