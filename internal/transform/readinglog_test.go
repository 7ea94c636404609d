package transform

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestAddReadDetailsToReadShelf(t *testing.T) {
	doc := record.Record{
		"_id":             "ur1",
		"rstatus_id":      "rs4",
		"rstatus_history": "rs2: 2026-01-01 10:00:00",
	}
	out := AddReadDetails(doc, nil, testNow)

	if out.GetString("reading_log") != "" {
		t.Errorf("to-read row got a log: %q", out.GetString("reading_log"))
	}
	if _, ok := out["rstatus_history"]; ok {
		t.Errorf("history survived on a to-read row")
	}
	if _, ok := out["days_to_read"]; ok {
		t.Errorf("to-read row got days_to_read")
	}
}

func TestGenerateLogStartAndEnd(t *testing.T) {
	doc := record.Record{
		"rstatus_id":     "rs1",
		"date_started":   "2026-03-01 09:00:00",
		"date_completed": "2026-03-10 21:00:00",
	}
	log := GenerateLog(doc, testNow)
	want := "rs2: 2026-03-01 09:00:00, rs1: 2026-03-10 21:00:00"
	if log != want {
		t.Errorf("log = %q, want %q", log, want)
	}
}

func TestGenerateLogPausedAfterResume(t *testing.T) {
	// Currently Reading, but the last historical status is Paused:
	// the row stays Paused until a completion shows up.
	doc := record.Record{
		"rstatus_id":      "rs2",
		"date_started":    "2026-03-01 09:00:00",
		"rstatus_history": "rs3: 2026-03-05 10:00:00",
	}
	log := GenerateLog(doc, testNow)
	want := "rs2: 2026-03-01 09:00:00, rs3: 2026-03-05 10:00:00"
	if log != want {
		t.Errorf("log = %q, want %q", log, want)
	}
	if doc.GetString("rstatus_id") != "rs3" {
		t.Errorf("status was not rewritten to paused: %s", doc.GetString("rstatus_id"))
	}
}

func TestGenerateLogPausedSynthesis(t *testing.T) {
	// Paused with no history and no start: history is synthesized at
	// now and the start a week earlier.
	doc := record.Record{"rstatus_id": "rs3"}
	log := GenerateLog(doc, testNow)

	weekAgo := testNow.AddDate(0, 0, -7).Format("2006-01-02 15:04:05")
	now := testNow.Format("2006-01-02 15:04:05")
	want := fmt.Sprintf("rs2: %s, rs3: %s", weekAgo, now)
	if log != want {
		t.Errorf("log = %q, want %q", log, want)
	}
}

func TestGenerateLogInferredStartFromCompletion(t *testing.T) {
	doc := record.Record{
		"rstatus_id":     "rs1",
		"date_completed": "2026-03-10 21:00:00",
	}
	log := GenerateLog(doc, testNow)
	want := "rs2: 2026-02-17 21:00:00, rs1: 2026-03-10 21:00:00"
	if log != want {
		t.Errorf("log = %q, want %q", log, want)
	}
}

func TestGenerateLogDefaultWindow(t *testing.T) {
	doc := record.Record{"rstatus_id": "rs1"}
	log := GenerateLog(doc, testNow)
	want := "rs2: 2025-10-10 10:10:10, rs1: 2025-10-31 20:31:31"
	if log != want {
		t.Errorf("log = %q, want %q", log, want)
	}

	// A still-open read gets only the default start
	doc = record.Record{"rstatus_id": "rs2"}
	if log := GenerateLog(doc, testNow); log != "rs2: 2025-10-10 10:10:10" {
		t.Errorf("open read log = %q", log)
	}

	// DNF carries its own status code on the end marker
	doc = record.Record{"rstatus_id": "rs5"}
	want = "rs2: 2025-10-10 10:10:10, rs5: 2025-10-31 20:31:31"
	if log := GenerateLog(doc, testNow); log != want {
		t.Errorf("dnf log = %q, want %q", log, want)
	}
}

func TestDaysToRead(t *testing.T) {
	cases := []struct {
		name string
		log  string
		want float64
	}{
		{
			"single interval",
			"rs2: 2026-03-01 00:00:00, rs1: 2026-03-10 00:00:00",
			9,
		},
		{
			"pause excluded",
			"rs2: 2026-03-01 00:00:00, rs3: 2026-03-03 00:00:00, rs2: 2026-03-08 00:00:00, rs1: 2026-03-10 00:00:00",
			4,
		},
		{
			"trailing pause counts as finish",
			"rs2: 2026-03-01 00:00:00, rs3: 2026-03-04 00:00:00",
			3,
		},
	}
	for _, tc := range cases {
		got, ok := DaysToRead(tc.log, testNow)
		if !ok {
			t.Fatalf("%s: no result", tc.name)
		}
		if math.Abs(got-tc.want) > 0.001 {
			t.Errorf("%s: got %.3f days, want %.3f", tc.name, got, tc.want)
		}
	}

	if _, ok := DaysToRead("", testNow); ok {
		t.Errorf("empty log produced a result")
	}

	// An open read is measured up to now
	got, ok := DaysToRead("rs2: 2026-03-13 12:00:00", testNow)
	if !ok || math.Abs(got-2) > 0.001 {
		t.Errorf("open read = %.3f ok=%v, want 2", got, ok)
	}

	// Sub-day reads round up to a day
	got, _ = DaysToRead("rs2: 2026-03-01 00:00:00, rs1: 2026-03-01 00:00:00", testNow)
	if got != 1 {
		t.Errorf("zero-interval read = %.3f, want 1", got)
	}
}

func TestReadRate(t *testing.T) {
	doc := record.Record{
		"days_to_read": 10.0,
		"reading_log":  "rs2: 2026-03-01 00:00:00, rs1: 2026-03-11 00:00:00",
	}
	version := record.Record{"format": "hardcover", "page_count": "400"}

	rate, metric, ok := ReadRate(doc, version)
	if !ok || metric != "pages" || rate != 40 {
		t.Errorf("rate = %v %s ok=%v, want 40 pages", rate, metric, ok)
	}

	// Audiobooks are measured in hours
	version = record.Record{"format": "audiobook", "length": "12.5"}
	rate, metric, ok = ReadRate(doc, version)
	if !ok || metric != "hours" || rate != 1.25 {
		t.Errorf("rate = %v %s ok=%v, want 1.25 hours", rate, metric, ok)
	}

	// A read paused inside its first five days rates against ten days
	paused := record.Record{
		"days_to_read": 2.0,
		"reading_log":  "rs2: 2026-03-01 00:00:00, rs3: 2026-03-03 00:00:00",
	}
	version = record.Record{"format": "paperback", "page_count": "300"}
	rate, _, ok = ReadRate(paused, version)
	if !ok || rate != 30 {
		t.Errorf("paused rate = %v ok=%v, want 30", rate, ok)
	}

	// No format or no length means no rate
	if _, _, ok := ReadRate(doc, record.Record{"page_count": "400"}); ok {
		t.Errorf("rate computed without format")
	}
	if _, _, ok := ReadRate(doc, record.Record{"format": "hardcover"}); ok {
		t.Errorf("rate computed without length")
	}
	if _, _, ok := ReadRate(record.Record{}, version); ok {
		t.Errorf("rate computed without days_to_read")
	}
}
