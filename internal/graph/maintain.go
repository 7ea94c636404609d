package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// LabelMap maps document collections to their node labels.
var LabelMap = map[string]string{
	"books":         "Book",
	"book_versions": "BookVersion",
	"book_series":   "BookSeries",
	"genres":        "Genre",
	"awards":        "Award",
	"creators":      "Creator",
	"creator_roles": "CreatorRole",
	"publishers":    "Publisher",
	"formats":       "Format",
	"languages":     "Language",
	"users":         "User",
	"clubs":         "Club",
	"user_badges":   "UserBadge",
	"club_badges":   "ClubBadge",
	"countries":     "Country",
}

// ConstraintsMap lists the uniqueness constraint per label.
var ConstraintsMap = map[string]string{
	"User":        "_id",
	"Club":        "_id",
	"Book":        "_id",
	"BookVersion": "_id",
	"Award":       "_id",
	"Creator":     "_id",
	"UserBadge":   "name",
	"ClubBadge":   "name",
	"Genre":       "name",
	"Country":     "name",
	"Format":      "name",
	"Language":    "name",
}

// CleanupMap lists the staging-only properties to strip from nodes
// after relationships are built from them.
var CleanupMap = map[string][]string{
	"Book": {"author_id", "series_id"},
	"BookVersion": {
		"book_id", "publisher_id", "narrator_id",
		"illustrator_id", "translator_id", "cover_artist_id",
	},
	"User": {"club_ids", "badge_timestamps"},
	"Club": {"created_by"},
}

// StatusRelMap maps an aggregated reading status to its relationship
// type.
var StatusRelMap = map[string]string{
	"DNF":     "DID_NOT_FINISH",
	"Read":    "HAS_READ",
	"Paused":  "HAS_PAUSED",
	"Reading": "IS_READING",
	"To Read": "WANTS_TO_READ",
}

// RelSpec describes a fan-out relationship driven by a list property on
// the source node.
type RelSpec struct {
	SourceLabel string
	TargetLabel string
	SourceProp  string
	TargetProp  string
}

// Edge pairs a relationship type with its spec and source documents.
type Edge struct {
	Rel  string
	Spec RelSpec
	Docs []record.Record
}

// EdgeCatalog returns the generic relationship refreshes for one load,
// in dependency-free order.
func EdgeCatalog(data map[string][]record.Record) []Edge {
	return []Edge{
		{"HAS_GENRE", RelSpec{"Book", "Genre", "genre", "name"}, data["books"]},
		{"VERSION_OF", RelSpec{"BookVersion", "Book", "book_id", "_id"}, data["book_versions"]},
		{"ENTRY_IN", RelSpec{"Book", "BookSeries", "series_id", "_id"}, data["books"]},
		{"AUTHORED_BY", RelSpec{"Book", "Creator", "author_id", "_id"}, data["books"]},
		{"NARRATED_BY", RelSpec{"BookVersion", "Creator", "narrator_id", "_id"}, data["book_versions"]},
		{"COVER_ART_BY", RelSpec{"BookVersion", "Creator", "cover_artist_id", "_id"}, data["book_versions"]},
		{"ILLUSTRATION_BY", RelSpec{"BookVersion", "Creator", "illustrator_id", "_id"}, data["book_versions"]},
		{"TRANSLATED_BY", RelSpec{"BookVersion", "Creator", "translator_id", "_id"}, data["book_versions"]},
		{"PUBLISHED_BY", RelSpec{"BookVersion", "Publisher", "publisher_id", "_id"}, data["book_versions"]},
		{"HAS_LANGUAGE", RelSpec{"BookVersion", "Language", "language", "name"}, data["book_versions"]},
		{"HAS_FORMAT", RelSpec{"BookVersion", "Format", "format", "name"}, data["book_versions"]},
		{"HAS_ROLE", RelSpec{"Creator", "CreatorRole", "roles", "name"}, data["creators"]},
		{"MEMBER_OF", RelSpec{"User", "Club", "club_ids", "_id"}, data["users"]},
		{"LIVES_IN", RelSpec{"User", "Country", "country", "name"}, data["users"]},
		{"PREFERS_GENRE", RelSpec{"User", "Genre", "preferred_genres", "name"}, data["users"]},
		{"AVOIDS_GENRE", RelSpec{"User", "Genre", "forbidden_genres", "name"}, data["users"]},
		{"PREFERS_GENRE", RelSpec{"Club", "Genre", "preferred_genres", "name"}, data["clubs"]},
	}
}

// EnsureConstraints creates the uniqueness constraints if absent.
func EnsureConstraints(ctx context.Context, s Session) error {
	labels := make([]string, 0, len(ConstraintsMap))
	for label := range ConstraintsMap {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		prop := ConstraintsMap[label]
		cypher := fmt.Sprintf(
			"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			lower(label), prop, label, prop)
		if _, err := s.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("ensure constraint %s(%s): %w", label, prop, err)
		}
		logging.Info("Verified constraint", "label", label, "prop", prop)
	}
	return nil
}

// UpsertNodes merges rows into nodes of the given label, keyed by _id.
// Nested values are stripped first since node properties must be
// scalars or scalar lists.
func UpsertNodes(ctx context.Context, s Session, label string, rows []record.Record) error {
	if len(rows) == 0 {
		return nil
	}

	params := make([]any, len(rows))
	for i, row := range rows {
		params[i] = record.SafeValue(record.RemoveNested(row.Clone()))
	}

	cypher := fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%s {_id: row._id})
SET n += row`, label)
	if _, err := s.Run(ctx, cypher, map[string]any{"rows": params}); err != nil {
		return fmt.Errorf("upsert %s nodes: %w", label, err)
	}
	logging.Info("Upserted nodes", "label", label, "count", len(rows))
	return nil
}

// SyncDeletions replays document-store tombstones against the graph,
// detaching and deleting the corresponding nodes. Tombstones without a
// source id or collection, or for collections with no node label, are
// skipped with a warning.
func SyncDeletions(ctx context.Context, s Session, deletions []record.Record) (int, error) {
	if len(deletions) == 0 {
		logging.Info("No new deletions to sync")
		return 0, nil
	}

	groups := map[string][]string{}
	for _, doc := range deletions {
		collection := doc.GetString("original_collection")
		originalID := doc.GetString("original_id")
		if collection == "" || originalID == "" {
			logging.Warn("Skipping malformed deletion record", "id", doc.ID())
			continue
		}
		label, ok := LabelMap[collection]
		if !ok {
			logging.Warn("No node label mapped for collection", "collection", collection)
			continue
		}
		groups[label] = append(groups[label], originalID)
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	deleted := 0
	for _, label := range labels {
		ids := groups[label]
		cypher := fmt.Sprintf("MATCH (n:%s) WHERE n._id IN $ids DETACH DELETE n", label)
		if _, err := s.Run(ctx, cypher, map[string]any{"ids": ids}); err != nil {
			return deleted, fmt.Errorf("sync %s deletions: %w", label, err)
		}
		deleted += len(ids)
		logging.Info("Deleted nodes", "label", label, "count", len(ids))
	}
	return deleted, nil
}

// RefreshEdges prunes a relationship type for the updated source nodes
// and re-merges it from the source's list property, so removals on the
// sheet shrink the graph too.
func RefreshEdges(ctx context.Context, s Session, edge Edge) error {
	ids := make([]any, 0, len(edge.Docs))
	for _, doc := range edge.Docs {
		ids = append(ids, doc["_id"])
	}
	if len(ids) == 0 {
		return nil
	}

	spec := edge.Spec
	cypher := fmt.Sprintf(`MATCH (source:%s)
WHERE source._id IN $ids
OPTIONAL MATCH (source)-[old_rel:%s]->()
DELETE old_rel
WITH source
WHERE source.%s IS NOT NULL
UNWIND source.%s AS value
MATCH (target:%s {%s: value})
MERGE (source)-[:%s]->(target)
RETURN count(*) AS relationships_created`,
		spec.SourceLabel, edge.Rel, spec.SourceProp, spec.SourceProp,
		spec.TargetLabel, spec.TargetProp, edge.Rel)

	rows, err := s.Run(ctx, cypher, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("refresh %s edges: %w", edge.Rel, err)
	}
	if len(rows) > 0 {
		logging.Info("Refreshed relationships", "type", edge.Rel, "created", rows[0]["relationships_created"])
	}
	return nil
}

// BadgeRows flattens parallel badge and timestamp lists into merge
// rows.
func BadgeRows(docs []record.Record) []map[string]any {
	var rows []map[string]any
	for _, doc := range docs {
		badges := toList(doc["badges"])
		timestamps := toList(doc["badge_timestamps"])
		n := len(badges)
		if len(timestamps) < n {
			n = len(timestamps)
		}
		for i := 0; i < n; i++ {
			rows = append(rows, map[string]any{
				"label_id":  doc["_id"],
				"badge":     badges[i],
				"earned_on": timestamps[i],
			})
		}
	}
	return rows
}

// BadgeEdges refreshes HAS_BADGE relationships for updated users or
// clubs, pruning first so revoked badges disappear.
func BadgeEdges(ctx context.Context, s Session, docs []record.Record, label string) error {
	if len(docs) == 0 {
		return nil
	}
	if label != "User" && label != "Club" {
		return fmt.Errorf("badge edges: label must be User or Club, got %q", label)
	}

	targetLabel := "UserBadge"
	if label == "Club" {
		targetLabel = "ClubBadge"
	}

	ids := make([]any, len(docs))
	for i, doc := range docs {
		ids[i] = doc["_id"]
	}

	prune := fmt.Sprintf(`MATCH (source:%s)
WHERE source._id IN $ids
OPTIONAL MATCH (source)-[r:HAS_BADGE]->()
DELETE r`, label)
	if _, err := s.Run(ctx, prune, map[string]any{"ids": ids}); err != nil {
		return fmt.Errorf("prune %s badges: %w", label, err)
	}

	rows := BadgeRows(docs)
	if len(rows) > 0 {
		merge := fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%s {_id: row.label_id})
MATCH (b:%s {name: row.badge})
MERGE (a)-[rel:HAS_BADGE]->(b)
SET rel.earned_on = row.earned_on`, label, targetLabel)
		if _, err := s.Run(ctx, merge, map[string]any{"rows": anyRows(rows)}); err != nil {
			return fmt.Errorf("merge %s badges: %w", label, err)
		}
	}

	logging.Info("Refreshed badge relationships", "label", label, "count", len(rows))
	return nil
}

// ReadingStatusEdges replaces each (user, edition) pair's status
// relationship with the aggregated current one, carrying the summary
// stats as relationship properties. All five status types are cleared
// per pair first so status transitions never leave stale edges behind.
func ReadingStatusEdges(ctx context.Context, s Session, aggregated []record.Record) error {
	byType := map[string][]record.Record{}
	var all []map[string]any
	for _, doc := range aggregated {
		relType, ok := StatusRelMap[doc.GetString("most_recent_rstatus")]
		if !ok {
			continue
		}
		byType[relType] = append(byType[relType], doc)
		all = append(all, map[string]any{
			"user_id":    doc["user_id"],
			"version_id": doc["version_id"],
		})
	}
	if len(all) == 0 {
		return nil
	}

	cleanup := `UNWIND $rows AS row
MATCH (u:User {_id: row.user_id})-[r:DID_NOT_FINISH|HAS_READ|HAS_PAUSED|IS_READING|WANTS_TO_READ]->(b:BookVersion {_id: row.version_id})
DELETE r`
	if _, err := s.Run(ctx, cleanup, map[string]any{"rows": anyRows(all)}); err != nil {
		return fmt.Errorf("cleanup reading status edges: %w", err)
	}

	relTypes := make([]string, 0, len(byType))
	for relType := range byType {
		relTypes = append(relTypes, relType)
	}
	sort.Strings(relTypes)

	for _, relType := range relTypes {
		rows := make([]map[string]any, len(byType[relType]))
		for i, doc := range byType[relType] {
			rows[i] = map[string]any{
				"user_id":            doc["user_id"],
				"version_id":         doc["version_id"],
				"most_recent_start":  doc["most_recent_start"],
				"most_recent_read":   doc["most_recent_read"],
				"most_recent_review": doc["most_recent_review"],
				"read_count":         doc["read_count"],
				"avg_rating":         doc["avg_rating"],
				"avg_days_to_read":   doc["avg_days_to_read"],
				"avg_read_rate":      doc["avg_read_rate"],
			}
		}

		merge := fmt.Sprintf(`UNWIND $rows AS row
MATCH (u:User {_id: row.user_id})
MATCH (b:BookVersion {_id: row.version_id})
MERGE (u)-[rel:%s]->(b)
SET rel.most_recent_start  = row.most_recent_start,
    rel.most_recent_read   = row.most_recent_read,
    rel.most_recent_review = row.most_recent_review,
    rel.read_count         = row.read_count,
    rel.avg_rating         = row.avg_rating,
    rel.avg_days_to_read   = row.avg_days_to_read,
    rel.avg_read_rate      = row.avg_read_rate`, relType)
		if _, err := s.Run(ctx, merge, map[string]any{"rows": anyRows(rows)}); err != nil {
			return fmt.Errorf("merge %s edges: %w", relType, err)
		}
	}

	logging.Info("Updated reading status relationships", "pairs", len(all))
	return nil
}

// BookAwardEdges refreshes HAS_AWARD relationships for the updated
// books using the flattened award rows.
func BookAwardEdges(ctx context.Context, s Session, books, awardRows []record.Record) error {
	if len(books) == 0 {
		return nil
	}

	ids := make([]any, len(books))
	for i, b := range books {
		ids[i] = b["_id"]
	}

	prune := `MATCH (b:Book)
WHERE b._id IN $ids
OPTIONAL MATCH (b)-[r:HAS_AWARD]->()
DELETE r`
	if _, err := s.Run(ctx, prune, map[string]any{"ids": ids}); err != nil {
		return fmt.Errorf("prune book awards: %w", err)
	}

	if len(awardRows) > 0 {
		rows := make([]map[string]any, len(awardRows))
		for i, row := range awardRows {
			rows[i] = map[string]any{
				"book_id":        row["book_id"],
				"award_id":       row["award_id"],
				"award_year":     row["award_year"],
				"award_status":   row["award_status"],
				"award_category": row.GetString("award_category"),
			}
		}

		merge := `UNWIND $rows AS row
MATCH (b:Book {_id: row.book_id})
MATCH (a:Award {_id: row.award_id})
MERGE (b)-[rel:HAS_AWARD]->(a)
SET rel.status = row.award_status,
    rel.year = row.award_year
FOREACH (_ IN CASE WHEN row.award_category <> "" THEN [1] ELSE [] END |
    SET rel.category = row.award_category)`
		if _, err := s.Run(ctx, merge, map[string]any{"rows": anyRows(rows)}); err != nil {
			return fmt.Errorf("merge book awards: %w", err)
		}
	}

	logging.Info("Refreshed book award relationships", "books", len(books))
	return nil
}

// ClubBookEdges refreshes SELECTED_FOR_PERIOD relationships by pruning
// the specific club/book/period triples in the delta and re-merging
// only selections that are currently final.
func ClubBookEdges(ctx context.Context, s Session, clubPeriodBooks []record.Record) error {
	if len(clubPeriodBooks) == 0 {
		return nil
	}

	pruneRows := make([]map[string]any, len(clubPeriodBooks))
	for i, row := range clubPeriodBooks {
		pruneRows[i] = map[string]any{
			"club_id": row["club_id"],
			"book_id": row["book_id"],
			"period":  row["period_name"],
		}
	}

	prune := `UNWIND $rows AS row
MATCH (c:Club {_id: row.club_id})-[r:SELECTED_FOR_PERIOD]->(b:Book {_id: row.book_id})
WHERE r.period = row.period
DELETE r`
	if _, err := s.Run(ctx, prune, map[string]any{"rows": anyRows(pruneRows)}); err != nil {
		return fmt.Errorf("prune club selections: %w", err)
	}

	var mergeRows []map[string]any
	for _, row := range clubPeriodBooks {
		if row.GetString("selection_status") != "selected" {
			continue
		}
		mergeRows = append(mergeRows, map[string]any{
			"club_id":          row["club_id"],
			"book_id":          row["book_id"],
			"period":           row["period_name"],
			"startdate":        row["period_startdate"],
			"enddate":          row["period_enddate"],
			"selection_method": row["selection_method"],
		})
	}

	if len(mergeRows) > 0 {
		merge := `UNWIND $rows AS row
MATCH (c:Club {_id: row.club_id})
MATCH (b:Book {_id: row.book_id})
MERGE (c)-[rel:SELECTED_FOR_PERIOD]->(b)
SET rel.period = row.period, rel.startdate = row.startdate,
    rel.enddate = row.enddate, rel.selection_method = row.selection_method`
		if _, err := s.Run(ctx, merge, map[string]any{"rows": anyRows(mergeRows)}); err != nil {
			return fmt.Errorf("merge club selections: %w", err)
		}
	}

	logging.Info("Refreshed club selection relationships", "triples", len(pruneRows))
	return nil
}

const (
	cleanupBatchSize     = 5000
	cleanupMaxIterations = 1000
)

// CleanupProperties removes staging-only properties from nodes in
// batches, bounded so a runaway predicate cannot loop forever.
func CleanupProperties(ctx context.Context, s Session) error {
	labels := make([]string, 0, len(CleanupMap))
	for label := range CleanupMap {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		touched := 0
		for _, prop := range CleanupMap[label] {
			cypher := fmt.Sprintf(`MATCH (n:%s)
WHERE n.%s IS NOT NULL
WITH n LIMIT $batch_size
REMOVE n.%s
RETURN count(n) AS removed`, label, prop, prop)

			for i := 0; i < cleanupMaxIterations; i++ {
				rows, err := s.Run(ctx, cypher, map[string]any{"batch_size": cleanupBatchSize})
				if err != nil {
					return fmt.Errorf("cleanup %s.%s: %w", label, prop, err)
				}
				removed := 0
				if len(rows) > 0 {
					removed = toInt(rows[0]["removed"])
				}
				if removed == 0 {
					break
				}
				touched += removed
			}
		}
		logging.Info("Cleaned up staging properties", "label", label, "nodes", touched)
	}
	return nil
}

// DeduplicateNodes removes duplicate nodes per label, keeping one node
// per identifier and detaching the rest.
func DeduplicateNodes(ctx context.Context, s Session, label string) (int, error) {
	cypher := fmt.Sprintf(`MATCH (n:%s)
WHERE n._id IS NOT NULL
WITH n._id AS id, collect(n) AS nodes
WHERE size(nodes) > 1
CALL (nodes) {
    WITH nodes
    WITH nodes[0] AS keep, nodes[1..] AS duplicates
    UNWIND duplicates AS d
    DETACH DELETE d
    RETURN count(d) AS deleted_count
}
RETURN sum(deleted_count) AS total_deleted`, label)

	rows, err := s.Run(ctx, cypher, nil)
	if err != nil {
		return 0, fmt.Errorf("deduplicate %s nodes: %w", label, err)
	}
	deleted := 0
	if len(rows) > 0 {
		deleted = toInt(rows[0]["total_deleted"])
	}
	if deleted > 0 {
		logging.Info("Deleted duplicate nodes", "label", label, "count", deleted)
	}
	return deleted, nil
}

func anyRows(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}

func toList(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func toInt(v any) int {
	switch val := v.(type) {
	case int64:
		return int(val)
	case int:
		return val
	case float64:
		return int(val)
	}
	return 0
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}
