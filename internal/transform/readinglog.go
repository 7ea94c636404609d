package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// Read status codes as they appear on the sheet.
const (
	statusRead    = "rs1"
	statusReading = "rs2"
	statusPaused  = "rs3"
	statusToRead  = "rs4"
	statusDNF     = "rs5"
)

const logTimeLayout = "2006-01-02 15:04:05"

// Default reading window for rows with no recorded dates at all.
var (
	defaultStart = "2025-10-10 10:10:10"
	defaultEnd   = "2025-10-31 20:31:31"
)

// AddReadDetails derives reading_log, days_to_read, and the read rate
// for a user_reads row, consuming rstatus_history in the process. Rows
// still on the to-read shelf carry an empty log and no derived fields.
func AddReadDetails(doc record.Record, bookVersions []record.Record, now time.Time) record.Record {
	if doc.GetString("rstatus_id") == statusToRead {
		doc["reading_log"] = ""
		delete(doc, "rstatus_history")
		return doc
	}

	doc["reading_log"] = GenerateLog(doc, now)
	if d2r, ok := DaysToRead(doc.GetString("reading_log"), now); ok {
		doc["days_to_read"] = d2r
	}

	versionDoc := record.FindDoc(bookVersions, "version_id", doc["version_id"])
	if len(versionDoc) == 0 {
		logging.Warn("No book version for read row",
			"id", doc.ID(), "version_id", doc["version_id"])
	} else if rate, metric, ok := ReadRate(doc, versionDoc); ok {
		doc[metric+"_per_day"] = rate
	}

	delete(doc, "rstatus_history")
	return doc
}

// GenerateLog folds the status history and the start/completion dates
// into a single chronological log string. Missing dates are
// synthesized: a paused read is assumed to have started a week ago, a
// finished read three weeks before completion, and rows with no dates
// at all get the default window.
func GenerateLog(doc record.Record, now time.Time) string {
	current := doc.GetString("rstatus_id")
	history := doc.GetString("rstatus_history")

	lastHistorical := ""
	if history != "" {
		lastHistorical = lastStatus(history)
	}

	// A read resumed after a pause stays paused until a completion shows up
	if current == statusReading && lastHistorical == statusPaused {
		current = statusPaused
		doc["rstatus_id"] = current
	}

	if current == statusPaused && history == "" {
		history = fmt.Sprintf("%s: %s", statusPaused, now.Format(logTimeLayout))
	}

	start := ""
	if ds := doc.GetString("date_started"); ds != "" {
		start = fmt.Sprintf("%s: %s", statusReading, ds)
	}
	end := ""
	if dc := doc.GetString("date_completed"); dc != "" {
		end = fmt.Sprintf("%s: %s", statusRead, dc)
	}

	if start == "" && current == statusPaused {
		start = fmt.Sprintf("%s: %s", statusReading, now.AddDate(0, 0, -7).Format(logTimeLayout))
	}

	if start == "" && (current == statusRead || current == statusPaused || current == statusDNF) {
		if completed := record.ToTime(doc.GetString("date_completed")); !completed.IsZero() {
			start = fmt.Sprintf("%s: %s", statusReading, completed.AddDate(0, 0, -21).Format(logTimeLayout))
		}
	}

	if start == "" && end == "" && (current == statusRead || current == statusReading || current == statusDNF) {
		start = fmt.Sprintf("%s: %s", statusReading, defaultStart)
		if current != statusReading {
			end = fmt.Sprintf("%s: %s", current, defaultEnd)
		}
	}

	log := start
	if history != "" {
		log = log + ", " + history
	}
	if end != "" {
		log = log + ", " + end
	}
	return log
}

// DaysToRead sums the reading intervals in a log, treating a trailing
// pause or DNF as the finish and an open read as finishing now. Always
// at least one day.
func DaysToRead(log string, now time.Time) (float64, bool) {
	if log == "" {
		return 0, false
	}

	tokens := splitLog(log)
	lastKey, lastValue := splitEntry(tokens[len(tokens)-1])
	if lastKey == statusPaused || lastKey == statusDNF {
		tokens[len(tokens)-1] = fmt.Sprintf("%s: %s", statusRead, lastValue)
	}
	if lastKey == statusReading {
		tokens = append(tokens, fmt.Sprintf("%s: %s", statusRead, now.Format(logTimeLayout)))
	}

	var total time.Duration
	var startTime time.Time
	for _, token := range tokens {
		key, value := splitEntry(token)
		switch key {
		case statusReading:
			startTime = record.ToTime(value)
		case statusPaused, statusRead:
			if !startTime.IsZero() {
				if endTime := record.ToTime(value); !endTime.IsZero() {
					total += endTime.Sub(startTime)
				}
				startTime = time.Time{}
			}
		}
	}

	days := total.Hours() / 24
	if days == 0 {
		days = 1
	}
	return days, true
}

// ReadRate derives the reading pace from the edition's length. Returns
// the rate, the metric it is measured in (hours or pages), and whether
// a rate could be computed. A read paused within its first five days is
// rated against a ten-day window instead of its raw elapsed time.
func ReadRate(doc record.Record, versionDoc record.Record) (float64, string, bool) {
	d2r, ok := doc["days_to_read"].(float64)
	if !ok {
		return 0, "", false
	}

	format := versionDoc.GetString("format")
	if format == "" {
		return 0, "", false
	}

	metric, lengthField := "pages", "page_count"
	if format == "audiobook" {
		metric, lengthField = "hours", "length"
	}

	length, ok := record.ToFloat(versionDoc[lengthField]).(float64)
	if !ok || length == 0 {
		return 0, "", false
	}

	rate := length / d2r
	if lastStatus(doc.GetString("reading_log")) == statusPaused && d2r <= 5 {
		rate = length / 10
	}
	return rate, metric, true
}

// lastStatus extracts the status code of the final log entry.
func lastStatus(log string) string {
	if log == "" {
		return ""
	}
	entries := strings.Split(log, ",")
	last := entries[len(entries)-1]
	return strings.TrimSpace(strings.SplitN(last, ":", 2)[0])
}

func splitLog(log string) []string {
	parts := strings.Split(log, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		tokens = append(tokens, strings.TrimSpace(p))
	}
	return tokens
}

func splitEntry(token string) (string, string) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(parts[0]), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
