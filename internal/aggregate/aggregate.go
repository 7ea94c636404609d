// Package aggregate rolls per-event reading rows up to one summary per
// user and edition pair, ready to become graph relationship properties.
package aggregate

import (
	"sort"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// statusPriority breaks timestamp ties between simultaneous events: a
// completion outranks a start, which outranks a pause.
var statusPriority = map[string]int{
	"Read":    3,
	"Reading": 2,
	"Paused":  1,
	"To Read": 0,
}

// UserReads aggregates reading rows by (user, edition): the most
// recent status and dates, the completed-read count, and averages over
// rating, days to read, and reading rate. Rows with no log entries are
// summarized as still on the to-read shelf.
//
// The whole window is recomputed per pair on every run. That is
// quadratic in users times editions and fine at club scale; revisit if
// either set grows past tens of thousands.
func UserReads(userReads []record.Record) []record.Record {
	type pair struct{ userID, versionID string }

	groups := map[pair][]record.Record{}
	var order []pair
	for _, e := range userReads {
		p := pair{e.GetString("user_id"), e.GetString("version_id")}
		if _, seen := groups[p]; !seen {
			order = append(order, p)
		}
		groups[p] = append(groups[p], e)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].userID != order[j].userID {
			return order[i].userID < order[j].userID
		}
		return order[i].versionID < order[j].versionID
	})

	aggregated := make([]record.Record, 0, len(order))
	for _, p := range order {
		entries := groups[p]

		var logs []record.Record
		for _, e := range entries {
			logs = append(logs, logEntries(e["reading_log"])...)
		}

		status := "To Read"
		var mostRecentStart, mostRecentRead any
		readCount := 0
		if len(logs) > 0 {
			best := logs[0]
			for _, l := range logs[1:] {
				if laterEvent(l, best) {
					best = l
				}
			}
			status = best.GetString("rstatus")

			for _, l := range logs {
				switch l.GetString("rstatus") {
				case "Reading":
					if ts := l.GetString("timestamp"); mostRecentStart == nil || ts > mostRecentStart.(string) {
						mostRecentStart = ts
					}
				case "Read":
					readCount++
					if ts := l.GetString("timestamp"); mostRecentRead == nil || ts > mostRecentRead.(string) {
						mostRecentRead = ts
					}
				}
			}
		}

		aggregated = append(aggregated, record.Record{
			"user_id":             p.userID,
			"version_id":          p.versionID,
			"most_recent_rstatus": status,
			"most_recent_start":   mostRecentStart,
			"most_recent_read":    mostRecentRead,
			"most_recent_review":  entries[0]["notes"],
			"read_count":          readCount,
			"avg_rating":          average(entries, "rating", false),
			"avg_days_to_read":    average(entries, "days_to_read", true),
			"avg_read_rate":       averageRate(entries),
		})
	}
	return aggregated
}

// laterEvent orders log events by timestamp, then by status priority.
func laterEvent(a, b record.Record) bool {
	at, bt := a.GetString("timestamp"), b.GetString("timestamp")
	if at != bt {
		return at > bt
	}
	ap, aok := statusPriority[a.GetString("rstatus")]
	bp, bok := statusPriority[b.GetString("rstatus")]
	if !aok {
		ap = -1
	}
	if !bok {
		bp = -1
	}
	return ap > bp
}

// average computes the mean of a numeric field. Nil values are always
// skipped; when skipZero is set, zeros are too. Returns nil when no
// value contributes.
func average(entries []record.Record, field string, skipZero bool) any {
	var sum float64
	count := 0
	for _, e := range entries {
		v, ok := toFloat(e[field])
		if !ok || (skipZero && v == 0) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return nil
	}
	return sum / float64(count)
}

// averageRate averages the reading pace, preferring pages per day and
// falling back to hours per day per entry.
func averageRate(entries []record.Record) any {
	var sum float64
	count := 0
	for _, e := range entries {
		if v, ok := toFloat(e["pages_per_day"]); ok && v != 0 {
			sum += v
			count++
		} else if v, ok := toFloat(e["hours_per_day"]); ok && v != 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return sum / float64(count)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// logEntries normalizes a reading_log value into records, whatever
// shape JSON decoding left it in.
func logEntries(v any) []record.Record {
	var out []record.Record
	switch list := v.(type) {
	case []record.Record:
		out = list
	case []any:
		for _, item := range list {
			switch e := item.(type) {
			case record.Record:
				out = append(out, e)
			case map[string]any:
				out = append(out, record.Record(e))
			}
		}
	}
	return out
}
