// Package transform reshapes staged spreadsheet deltas into the
// document structures the main store holds. Every collection has a
// registered transform; unregistered collections pass through the
// pipeline untouched.
package transform

import (
	"regexp"
	"strings"

	"github.com/edwardbensa/storiedbc-db/internal/lookup"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/subdoc"
)

// LookupRegistry declares the business-key maps the transforms resolve
// foreign references through.
func LookupRegistry() lookup.Registry {
	return lookup.Registry{
		"creators":             {Field: "creator_id", Get: []string{"_id", "firstname", "lastname"}},
		"book_series":          {Field: "name", Get: []string{"_id", "name"}},
		"awards":               {Field: "award_id", Get: []string{"_id"}},
		"publishers":           {Field: "name", Get: []string{"_id", "name"}},
		"books":                {Field: "book_id", Get: []string{"_id"}},
		"users":                {Field: "user_id", Get: []string{"_id"}},
		"clubs":                {Field: "club_id", Get: []string{"_id"}},
		"club_reading_periods": {Field: "period_id", Get: []string{"_id", "name"}},
		"genres":               {Field: "name", Get: []string{"_id", "name"}},
		"club_badges":          {Field: "name", Get: []string{"_id", "name"}},
		"user_badges":          {Field: "name", Get: []string{"_id", "name"}},
		"book_versions":        {Field: "version_id", Get: []string{"_id"}},
		"read_statuses":        {Field: "rstatus_id", Get: []string{"name"}},
	}
}

// SubdocRegistry declares how flat delimited sheet fields decode into
// subdocuments, resolving references through the lookup maps.
func SubdocRegistry(lookups lookup.Maps) subdoc.Registry {
	return subdoc.Registry{
		"creators": {
			Decode: func(g []string) any {
				return lookups.ResolveCreator(g[0])
			},
		},
		"awards": {
			Pattern: regexp.MustCompile(
				`^award_id:\s*(\w+);\s*` +
					`award_name:\s*(.*?);\s*` +
					`award_category:\s*(.*?);\s*` +
					`year:\s*(\d{4});\s*` +
					`award_status:\s*(\w+)`),
			Decode: func(g []string) any {
				return lookups.ResolveAwards(g)
			},
		},
		"votes": {
			Pattern: regexp.MustCompile(`^user_id:\s*(\w+),\s*vote_date:\s*(\d{4}-\d{2}-\d{2})`),
			Decode: func(g []string) any {
				return record.Record{
					"user_id":   lookups.Resolve("users", g[1]),
					"timestamp": g[2],
				}
			},
		},
		"club_discussions": {
			Pattern: regexp.MustCompile(`^user_id:\s*(\w+);\s*comment:\s*(.+?);\s*timestamp:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2})`),
			Decode: func(g []string) any {
				return record.Record{
					"user_id":   lookups.Resolve("users", g[1]),
					"comment":   strings.TrimSpace(g[2]),
					"timestamp": g[3],
				}
			},
		},
		"club_genres": {
			Decode: func(g []string) any {
				return lookups.Resolve("genres", strings.TrimSpace(g[0]))
			},
		},
		"join_requests": {
			Pattern: regexp.MustCompile(`^user_id:\s*(\w+),\s*timestamp:\s*(\d{4}-\d{2}-\d{2})`),
			Decode: func(g []string) any {
				return record.Record{
					"user_id":   lookups.Resolve("users", g[1]),
					"timestamp": g[2],
				}
			},
		},
		"club_badges": {
			Pattern: regexp.MustCompile(`^badge:\s*(.+?),\s*timestamp:\s*(\d{4}-\d{2}-\d{2})`),
			Decode: func(g []string) any {
				return badgeEntry(lookups, "club_badges", g)
			},
		},
		"reading_log": {
			Pattern: regexp.MustCompile(`^(.+):\s*(\d{4}-\d{2}-\d{2}(?: \d{2}:\d{2}:\d{2})?)`),
			Decode: func(g []string) any {
				return record.Record{
					"rstatus":   lookups.Resolve("read_statuses", strings.TrimSpace(g[1])),
					"timestamp": g[2],
				}
			},
		},
		"reading_goal": {
			Pattern: regexp.MustCompile(`^year:\s*(\d+),\s*goal:\s*(\d+)`),
			Decode: func(g []string) any {
				return record.Record{
					"year": record.ToInt(g[1]),
					"goal": record.ToInt(g[2]),
				}
			},
		},
		"user_badges": {
			Pattern: regexp.MustCompile(`^badge:\s*(.+?),\s*timestamp:\s*(\d{4}-\d{2}-\d{2})`),
			Decode: func(g []string) any {
				return badgeEntry(lookups, "user_badges", g)
			},
		},
		"preferred_genres": {
			Decode: func(g []string) any {
				return lookups.Resolve("genres", g[0])
			},
		},
		"clubs": {
			Pattern: regexp.MustCompile(`^_id:\s*(\w+),\s*role:\s*(\w+),\s*joined:\s*(\d{4}-\d{2}-\d{2})`),
			Decode: func(g []string) any {
				return record.Record{
					"_id":  lookups.Resolve("clubs", g[1]),
					"role": g[2],
				}
			},
		},
		"tiers": {
			Pattern: regexp.MustCompile(`^name:\s*(.*?),\s*threshold:\s*(\d+),\s*message:\s*(.*)`),
			Decode: func(g []string) any {
				return record.Record{
					"name":      strings.TrimSpace(g[1]),
					"threshold": record.ToInt(g[2]),
					"message":   strings.TrimSpace(g[3]),
				}
			},
		},
	}
}

// badgeEntry merges a resolved badge reference with the earned
// timestamp from the sheet entry.
func badgeEntry(lookups lookup.Maps, collection string, g []string) record.Record {
	sub := record.Record{"timestamp": g[2]}
	if resolved, ok := lookups.Resolve(collection, strings.TrimSpace(g[1])).(record.Record); ok {
		for k, v := range resolved {
			sub[k] = v
		}
	}
	return sub
}
