// Package sheets syncs the manually maintained spreadsheet into the
// staging store: each worksheet is fingerprinted, diffed against its
// stored collection, and the delta is applied with durable identifiers
// preserved.
package sheets

import (
	"context"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// Spreadsheet is the source of truth for raw rows. Implementations
// return one record per data row with the header row as field names.
type Spreadsheet interface {
	Records(ctx context.Context, sheetName string) ([]record.Record, error)
}

// IdentityFields lists, per sheet, the fields that identify a row
// across edits. Rows whose identity fields change are treated as a
// delete plus an insert.
var IdentityFields = map[string][]string{
	"books":                {"title", "genre"},
	"book_versions":        {"isbn_13", "asin"},
	"creators":             {"firstname", "lastname"},
	"creator_roles":        {"name"},
	"genres":               {"name"},
	"book_series":          {"name"},
	"awards":               {"name"},
	"publishers":           {"name"},
	"formats":              {"name"},
	"tags":                 {"name"},
	"languages":            {"name"},
	"users":                {"handle"},
	"user_reads":           {"ur_id"},
	"read_statuses":        {"name"},
	"user_badges":          {"name"},
	"user_roles":           {"name"},
	"user_permissions":     {"name"},
	"clubs":                {"handle"},
	"club_members":         {"club_id", "user_id"},
	"club_member_reads":    {"cmr_id"},
	"club_reading_periods": {"club_id", "period_id"},
	"club_period_books":    {"cpb_id"},
	"club_discussions":     {"club_id", "discussion_id"},
	"club_events":          {"event_id"},
	"club_event_types":     {"name"},
	"club_event_statuses":  {"name"},
	"club_badges":          {"name"},
	"countries":            {"name"},
}

// Group is a set of sheets synced together under one batch summary.
type Group struct {
	Name   string
	Sheets []string
}

// Groups returns the sheet groups in sync order.
func Groups() []Group {
	return []Group{
		{"books", []string{
			"books", "book_versions", "creators", "creator_roles", "genres",
			"book_series", "awards", "publishers", "formats", "tags", "languages",
		}},
		{"users", []string{
			"users", "user_reads", "read_statuses", "user_badges",
			"user_roles", "user_permissions",
		}},
		{"clubs", []string{
			"clubs", "club_members", "club_member_reads", "club_reading_periods",
			"club_period_books", "club_discussions", "club_events",
			"club_event_types", "club_event_statuses", "club_badges",
		}},
		{"misc", []string{"countries"}},
	}
}
