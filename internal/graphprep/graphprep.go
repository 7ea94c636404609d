// Package graphprep extracts changed documents from the main store and
// reshapes them into flat, graph-ready rows: nested subdocuments become
// scalar lists, reads are aggregated, and book descriptions are
// embedded.
package graphprep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/aggregate"
	"github.com/edwardbensa/storiedbc-db/internal/embed"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/secure"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// Task declares how one collection is extracted: which nested fields
// flatten into lists, and which fields never leave the document store.
type Task struct {
	FieldMap map[string]string
	Exclude  []string
}

// ExtractionConfig returns the per-collection extraction instructions.
// PII and document-only housekeeping fields are excluded at the source.
func ExtractionConfig() map[string]Task {
	return map[string]Task{
		"books": {FieldMap: map[string]string{
			"author":    "author.name",
			"author_id": "author._id",
			"series":    "series.name",
			"series_id": "series._id",
		}},
		"book_versions": {FieldMap: map[string]string{
			"translator":      "translator.name",
			"translator_id":   "translator._id",
			"illustrator":     "illustrator.name",
			"illustrator_id":  "illustrator._id",
			"narrator":        "narrator.name",
			"narrator_id":     "narrator._id",
			"cover_artist":    "cover_artist.name",
			"cover_artist_id": "cover_artist._id",
			"contributor":     "contributor.name",
			"contributor_id":  "contributor._id",
			"publisher_id":    "publisher._id",
			"publisher":       "publisher.name",
		}},
		"book_series":   {Exclude: []string{"books"}},
		"genres":        {Exclude: []string{"date_added"}},
		"awards":        {Exclude: []string{"date_added"}},
		"creators":      {Exclude: []string{"date_added"}},
		"creator_roles": {},
		"publishers":    {Exclude: []string{"date_added"}},
		"formats":       {},
		"languages":     {},
		"user_badges":   {Exclude: []string{"date_added", "tiers"}},
		"club_badges":   {Exclude: []string{"date_added", "tiers"}},
		"countries":     {},
		"users": {
			FieldMap: map[string]string{
				"club_ids":         "clubs._id",
				"badges":           "badges.name",
				"badge_timestamps": "badges.timestamp",
			},
			Exclude: []string{
				"firstname", "lastname", "email_address", "password",
				"dob", "gender", "city", "state", "is_admin", "last_active_date",
			},
		},
		"clubs": {
			FieldMap: map[string]string{
				"badges":           "badges.name",
				"badge_timestamps": "badges.timestamp",
			},
			Exclude: []string{"member_permissions", "join_requests", "moderators"},
		},
		"user_reads":           {},
		"club_period_books":    {},
		"club_reading_periods": {},
	}
}

// Extract pulls every configured collection's delta since the watermark
// and flattens mapped fields. Returns the per-collection results and
// the total changed document count.
func Extract(st *store.Store, since time.Time) (map[string][]record.Record, int, error) {
	results := map[string][]record.Record{}
	total := 0

	for name, task := range ExtractionConfig() {
		docs, err := st.Find(name, store.FindOptions{Since: since, Exclude: task.Exclude})
		if err != nil {
			return nil, 0, fmt.Errorf("extract %s: %w", name, err)
		}

		if len(task.FieldMap) > 0 {
			for i, doc := range docs {
				docs[i] = record.Flatten(doc, task.FieldMap)
			}
		}

		results[name] = docs
		total += len(docs)
		logging.Info("Extracted delta", "collection", name, "records", len(docs))
	}
	return results, total, nil
}

// Enrich applies the cross-collection derivations the graph load
// expects: per-user current-year reading goals and decrypted countries,
// creator display names, award flattening and description embeddings
// for books, read aggregation, and period names on club selections.
func Enrich(ctx context.Context, results map[string][]record.Record, cipher *secure.Cipher, embedder embed.BatchEmbedder, now time.Time) map[string][]record.Record {
	currentYear := now.Year()
	for _, user := range results["users"] {
		user["reading_goal"] = currentYearGoal(user["reading_goal"], currentYear)
		if cipher != nil {
			if version := user.GetString("key_version"); version != "" {
				user["country"] = cipher.Decrypt(user.GetString("country"), version)
			}
		}
		delete(user, "key_version")
	}

	for _, creator := range results["creators"] {
		name := strings.TrimSpace(creator.GetString("firstname") + " " + creator.GetString("lastname"))
		creator["name"] = name
	}

	if books := results["books"]; len(books) > 0 {
		books, bookAwards := ProcessBooks(ctx, books, embedder)
		results["books"] = books
		results["book_awards"] = bookAwards
	}

	if userReads := results["user_reads"]; len(userReads) > 0 {
		results["user_reads"] = aggregate.UserReads(userReads)
	}

	periods := results["club_reading_periods"]
	for _, cpb := range results["club_period_books"] {
		period := record.FindDoc(periods, "_id", cpb["period_id"])
		if name, ok := period["name"]; ok {
			cpb["period_name"] = name
		}
	}

	return results
}

// currentYearGoal picks this year's goal out of the decoded goal list.
func currentYearGoal(goals any, year int) any {
	list, ok := goals.([]any)
	if !ok {
		return "N/A"
	}
	for _, item := range list {
		goal, ok := asRecord(item)
		if !ok {
			continue
		}
		if y, ok := record.ToInt(goal["year"]).(int); ok && y == year {
			return goal["goal"]
		}
	}
	return "N/A"
}

// ProcessBooks flattens each book's award subdocuments into relation
// rows and a display string, then embeds an enriched description text.
// An embedding outage marks the batch instead of failing it so the rest
// of the load can proceed.
func ProcessBooks(ctx context.Context, books []record.Record, embedder embed.BatchEmbedder) ([]record.Record, []record.Record) {
	var awardRows []record.Record
	for _, book := range books {
		list, _ := book["awards"].([]any)
		for _, item := range list {
			award, ok := asRecord(item)
			if !ok {
				continue
			}
			awardRows = append(awardRows, record.Record{
				"book_id":        book["_id"],
				"award_id":       award["_id"],
				"award_name":     award.GetString("name"),
				"award_category": award.GetString("category"),
				"award_year":     award["year"],
				"award_status":   award.GetString("status"),
			})
		}
	}

	// Replace each book's award list with a joined display string
	awardStrings := map[string][]string{}
	for _, row := range awardRows {
		name := row.GetString("award_name")
		if category := row.GetString("award_category"); category != "" {
			name = fmt.Sprintf("%s for %s", name, category)
		}
		bookID := row.GetString("book_id")
		awardStrings[bookID] = append(awardStrings[bookID],
			fmt.Sprintf("%s, %v, %s", name, row["award_year"], row.GetString("award_status")))
	}
	for _, book := range books {
		if strs, ok := awardStrings[book.ID()]; ok {
			book["awards"] = strings.Join(strs, "; ")
		} else {
			delete(book, "awards")
		}
	}

	// Embed enriched descriptions
	var descriptions []string
	var validBooks []record.Record
	for _, book := range books {
		if book["description"] == nil {
			logging.Warn("Description not found", "title", book.GetString("title"))
			continue
		}
		descriptions = append(descriptions, fmt.Sprintf(
			"Title: %s\n\nAuthor: %s\n\nGenres: %s\n\nDescription: %s",
			book.GetString("title"),
			joinList(book["author"]),
			joinList(book["genre"]),
			book.GetString("description")))
		validBooks = append(validBooks, book)
	}

	if len(descriptions) > 0 && embedder != nil {
		embeddings, err := embedder.EmbedBatch(ctx, descriptions)
		if err != nil {
			logging.Error("Embedding generation failed, adding error marker", "err", err)
			for _, book := range validBooks {
				book["failed_embedding"] = true
			}
		} else {
			for i, book := range validBooks {
				book["description_embedding"] = embeddings[i]
			}
		}
	}

	sort.SliceStable(awardRows, func(i, j int) bool {
		return awardRows[i].GetString("book_id") < awardRows[j].GetString("book_id")
	})
	return books, awardRows
}

func joinList(v any) string {
	switch list := v.(type) {
	case []string:
		return strings.Join(list, ", ")
	case []any:
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	case string:
		return list
	}
	return ""
}

func asRecord(v any) (record.Record, bool) {
	switch val := v.(type) {
	case record.Record:
		return val, true
	case map[string]any:
		return record.Record(val), true
	}
	return nil, false
}
