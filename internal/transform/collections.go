package transform

import (
	"sort"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/blob"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/lookup"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/secure"
	"github.com/edwardbensa/storiedbc-db/internal/subdoc"
)

// Context carries the shared state a transform run needs: resolved
// lookup maps, the subdocument registry, reference slices for
// cross-collection derivations, and the PII cipher.
type Context struct {
	Lookups lookup.Maps
	Subdocs subdoc.Registry

	// Books holds the staged books rows that belong to a series, for
	// the series membership scan.
	Books []record.Record
	// BookVersions holds the staged editions referenced by updated
	// read rows, for deriving reading rates.
	BookVersions []record.Record

	BlobAccount    string
	CoverContainer string

	Cipher *secure.Cipher
	Now    time.Time
}

// Func reshapes one staged document into its main-store structure.
type Func func(doc record.Record, ctx *Context) record.Record

// Map registers the transform for every collection the sheet feeds.
var Map = map[string]Func{
	"club_members":         ClubMembers,
	"club_member_reads":    ClubMemberReads,
	"club_period_books":    ClubPeriodBooks,
	"club_discussions":     ClubDiscussions,
	"club_events":          ClubEvents,
	"club_event_types":     ClubEventTypes,
	"club_event_statuses":  ClubEventStatuses,
	"club_reading_periods": ClubReadingPeriods,
	"club_badges":          ClubBadges,
	"clubs":                Clubs,
	"user_reads":           UserReads,
	"user_roles":           UserRoles,
	"user_badges":          UserBadges,
	"user_permissions":     UserPermissions,
	"users":                Users,
	"books":                Books,
	"book_versions":        BookVersions,
	"book_series":          BookSeries,
	"creators":             Creators,
	"awards":               Awards,
	"formats":              Formats,
	"languages":            Languages,
	"creator_roles":        CreatorRoles,
	"read_statuses":        ReadStatuses,
	"countries":            Countries,
	"genres":               Genres,
	"publishers":           Publishers,
	"tags":                 Tags,
}

// Books resolves creator and series references and decodes the award
// list.
func Books(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":                    doc["_id"],
		"title":                  doc.GetString("title"),
		"author":                 subdoc.Decode(doc["author"], "creators", ctx.Subdocs, ","),
		"genre":                  record.ToArray(doc["genre"]),
		"series":                 ctx.Lookups.Resolve("book_series", doc["series"]),
		"series_index":           record.ToInt(doc["series_index"]),
		"description":            doc["description"],
		"first_publication_date": doc["first_publication_date"],
		"contributors":           subdoc.Decode(doc["contributors"], "creators", ctx.Subdocs, ","),
		"awards":                 subdoc.Decode(doc["awards"], "awards", ctx.Subdocs, "|"),
		"tags":                   record.ToArray(doc["tags"]),
		"date_added":             doc["date_added"],
	}
}

// BookVersions resolves the parent book and publisher, decodes the
// per-edition creator roles, and derives the hosted cover URL.
func BookVersions(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":          doc["_id"],
		"book_id":      ctx.Lookups.Resolve("books", doc["book_id"]),
		"title":        doc["title"],
		"isbn_13":      record.ToInt(doc["isbn_13"]),
		"asin":         doc["asin"],
		"format":       doc["format"],
		"edition":      doc["edition"],
		"release_date": doc["release_date"],
		"page_count":   record.ToInt(doc["page_count"]),
		"length_hours": record.ToFloat(doc["length"]),
		"description":  doc["description"],
		"publisher":    ctx.Lookups.Resolve("publishers", doc["publisher"]),
		"language":     doc["language"],
		"translator":   subdoc.Decode(doc["translator"], "creators", ctx.Subdocs, ","),
		"narrator":     subdoc.Decode(doc["narrator"], "creators", ctx.Subdocs, ","),
		"illustrator":  subdoc.Decode(doc["illustrator"], "creators", ctx.Subdocs, ","),
		"editors":      subdoc.Decode(doc["editors"], "creators", ctx.Subdocs, ","),
		"cover_artist": subdoc.Decode(doc["cover_artist"], "creators", ctx.Subdocs, ","),
		"cover_url": blob.ImageURL(doc, doc.GetString("cover_url"), "cover",
			ctx.CoverContainer, ctx.BlobAccount),
		"date_added": doc["date_added"],
	}
}

// BookSeries collects the series' member books in reading order.
func BookSeries(doc record.Record, ctx *Context) record.Record {
	name := doc.GetString("name")

	var members []record.Record
	for _, b := range ctx.Books {
		if b.GetString("series") == name {
			members = append(members, b)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return seriesIndex(members[i]) < seriesIndex(members[j])
	})

	selected := make([]any, 0, len(members))
	for _, b := range members {
		selected = append(selected, record.Record{
			"index": record.ToInt(b["series_index"]),
			"_id":   b["_id"],
		})
	}

	return record.Record{
		"_id":        doc["_id"],
		"name":       name,
		"books":      selected,
		"date_added": doc["date_added"],
	}
}

func seriesIndex(doc record.Record) int {
	if v, ok := record.ToInt(doc["series_index"]).(int); ok {
		return v
	}
	return 0
}

// ClubMembers resolves the membership's club and user references.
func ClubMembers(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"club_id":     ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"user_id":     ctx.Lookups.Resolve("users", doc["user_id"]),
		"role":        doc["role"],
		"date_joined": doc["date_joined"],
		"is_active":   doc.GetString("is_active") == "TRUE",
	}
}

// ClubMemberReads resolves the read's references, including the
// reading period it happened in.
func ClubMemberReads(doc record.Record, ctx *Context) record.Record {
	out := record.Record{
		"_id":       doc["_id"],
		"club_id":   ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"user_id":   ctx.Lookups.Resolve("users", doc["user_id"]),
		"book_id":   ctx.Lookups.Resolve("books", doc["book_id"]),
		"read_date": doc["read_date"],
		"timestamp": ctx.Now,
	}
	if period, ok := ctx.Lookups.Resolve("club_reading_periods", doc["period_id"]).(record.Record); ok {
		out["period_id"] = period["_id"]
	}
	return out
}

// ClubPeriodBooks resolves the candidate book's references and decodes
// its vote entries.
func ClubPeriodBooks(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":              doc["_id"],
		"club_id":          ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"book_id":          ctx.Lookups.Resolve("books", doc["book_id"]),
		"period":           ctx.Lookups.Resolve("club_reading_periods", doc["period_id"]),
		"period_startdate": doc["period_startdate"],
		"period_enddate":   doc["period_enddate"],
		"selected_by":      ctx.Lookups.Resolve("users", doc["selected_by"]),
		"selection_method": doc["selection_method"],
		"votes":            subdoc.Decode(doc["votes"], "votes", ctx.Subdocs, ";"),
		"votes_startdate":  doc["votes_startdate"],
		"votes_enddate":    doc["votes_enddate"],
		"selection_status": doc["selection_status"],
		"date_added":       ctx.Now,
	}
}

// ClubDiscussions decodes the comment thread into subdocuments.
func ClubDiscussions(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":               doc["_id"],
		"club_id":           ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"topic_name":        doc["topic_name"],
		"topic_description": doc["topic_description"],
		"created_by":        ctx.Lookups.Resolve("users", doc["created_by"]),
		"timestamp":         doc["timestamp"],
		"comments":          subdoc.Decode(doc["comments"], "club_discussions", ctx.Subdocs, "|"),
		"book_reference":    ctx.Lookups.Resolve("books", doc["book_reference"]),
	}
}

// ClubEvents resolves the event's club and creator.
func ClubEvents(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"club_id":     ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"name":        doc["name"],
		"description": doc["description"],
		"type":        doc["type"],
		"startdate":   doc["startdate"],
		"enddate":     doc["enddate"],
		"status":      doc["status"],
		"created_by":  ctx.Lookups.Resolve("users", doc["created_by"]),
		"date_added":  ctx.Now,
	}
}

// ClubEventTypes promotes the sheet's type code to the identifier.
func ClubEventTypes(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["et_id"],
		"name":        doc["name"],
		"category":    doc["category"],
		"description": doc["description"],
	}
}

// ClubEventStatuses promotes the sheet's status code to the identifier.
func ClubEventStatuses(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["es_id"],
		"name":        doc["name"],
		"description": doc["description"],
	}
}

// ClubReadingPeriods resolves the period's club and creator.
func ClubReadingPeriods(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"club_id":     ctx.Lookups.Resolve("clubs", doc["club_id"]),
		"name":        doc["name"],
		"description": doc["description"],
		"startdate":   doc["startdate"],
		"enddate":     doc["enddate"],
		"status":      doc["period_status"],
		"max_books":   record.ToInt(doc["max_books"]),
		"created_by":  ctx.Lookups.Resolve("users", doc["created_by"]),
		"date_added":  ctx.Now,
	}
}

// ClubBadges decodes the badge's tier ladder.
func ClubBadges(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"name":        doc["name"],
		"category":    doc["category"],
		"tiers":       subdoc.Decode(doc["tiers"], "tiers", ctx.Subdocs, "|"),
		"description": doc["description"],
		"date_added":  ctx.Now,
	}
}

// Clubs resolves moderators and creator, and decodes badges and join
// requests.
func Clubs(doc record.Record, ctx *Context) record.Record {
	moderators := []any{}
	for _, handle := range record.ToArray(doc["moderators"]) {
		moderators = append(moderators, ctx.Lookups.Resolve("users", handle))
	}

	return record.Record{
		"_id":                doc["_id"],
		"handle":             doc["handle"],
		"name":               doc["name"],
		"creationdate":       doc["creationdate"],
		"preferred_genres":   record.ToArray(doc["preferred_genres"]),
		"description":        doc["description"],
		"visibility":         doc["visibility"],
		"rules":              doc["rules"],
		"moderators":         moderators,
		"badges":             subdoc.Decode(doc["badges"], "club_badges", ctx.Subdocs, "|"),
		"member_permissions": record.ToArray(doc["member_permissions"]),
		"join_requests":      subdoc.Decode(doc["join_requests"], "join_requests", ctx.Subdocs, ";"),
		"created_by":         ctx.Lookups.Resolve("users", doc["created_by"]),
	}
}

// UserReads derives the reading log and rates, then resolves the row's
// references.
func UserReads(doc record.Record, ctx *Context) record.Record {
	doc = AddReadDetails(doc.Clone(), ctx.BookVersions, ctx.Now)

	return record.Record{
		"_id":            doc["_id"],
		"user_id":        ctx.Lookups.Resolve("users", doc["user_id"]),
		"version_id":     ctx.Lookups.Resolve("book_versions", doc["version_id"]),
		"rstatus":        ctx.Lookups.Resolve("read_statuses", doc["rstatus_id"]),
		"reading_log":    subdoc.Decode(doc["reading_log"], "reading_log", ctx.Subdocs, ","),
		"date_started":   doc["date_started"],
		"date_completed": doc["date_completed"],
		"days_to_read":   doc["days_to_read"],
		"pages_per_day":  doc["pages_per_day"],
		"hours_per_day":  doc["hours_per_day"],
		"rating":         record.ToInt(doc["rating"]),
		"notes":          doc["notes"],
	}
}

// UserRoles promotes the role code to the identifier.
func UserRoles(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["role_id"],
		"name":        doc["name"],
		"permissions": record.ToArray(doc["permissions"]),
		"description": doc["description"],
		"date_added":  ctx.Now,
	}
}

// UserBadges decodes the badge's tier ladder.
func UserBadges(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"name":        doc["name"],
		"category":    doc["category"],
		"tiers":       subdoc.Decode(doc["tiers"], "tiers", ctx.Subdocs, "|"),
		"description": doc["description"],
		"date_added":  ctx.Now,
	}
}

// UserPermissions promotes the permission code to the identifier.
func UserPermissions(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["permission_id"],
		"name":        doc["name"],
		"description": doc["description"],
	}
}

// Users encrypts PII fields under the latest key version, hashes the
// password, and decodes the user's goal, badge, and club memberships.
func Users(doc record.Record, ctx *Context) record.Record {
	keyVersion := ""
	encrypt := func(v string) string { return v }
	if ctx.Cipher != nil {
		keyVersion = ctx.Cipher.LatestVersion()
		encrypt = func(v string) string { return ctx.Cipher.Encrypt(v, keyVersion) }
	}

	password, err := secure.HashPassword(doc.GetString("password"))
	if err != nil {
		logging.Error("Password hash failed", "id", doc.ID(), "err", err)
		password = ""
	}

	return record.Record{
		"_id":              doc["_id"],
		"user_id":          doc["user_id"],
		"handle":           doc["handle"],
		"firstname":        doc["firstname"],
		"lastname":         doc["lastname"],
		"email_address":    encrypt(doc.GetString("email_address")),
		"password":         password,
		"dob":              encrypt(doc.GetString("dob")),
		"gender":           encrypt(doc.GetString("gender")),
		"city":             encrypt(doc.GetString("city")),
		"state":            encrypt(doc.GetString("state")),
		"country":          encrypt(doc.GetString("country")),
		"bio":              doc["bio"],
		"reading_goal":     subdoc.Decode(doc["reading_goal"], "reading_goal", ctx.Subdocs, "|"),
		"badges":           subdoc.Decode(doc["badges"], "user_badges", ctx.Subdocs, "|"),
		"preferred_genres": record.ToArray(doc["preferred_genres"]),
		"forbidden_genres": record.ToArray(doc["forbidden_genres"]),
		"clubs":            subdoc.Decode(doc["clubs"], "clubs", ctx.Subdocs, "|"),
		"date_joined":      doc["date_joined"],
		"last_active_date": doc["last_active_date"],
		"is_admin":         doc.GetString("is_admin") == "TRUE",
		"key_version":      keyVersion,
	}
}

// Creators splits the role list into an array.
func Creators(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":        doc["_id"],
		"creator_id": doc["creator_id"],
		"firstname":  doc["firstname"],
		"lastname":   doc["lastname"],
		"bio":        doc["bio"],
		"website":    doc["website"],
		"roles":      record.ToArray(doc["roles"]),
		"date_added": ctx.Now,
	}
}

// Awards converts the year bounds and splits category and status lists.
func Awards(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":          doc["_id"],
		"name":         doc["name"],
		"org":          doc["org"],
		"description":  doc["description"],
		"website":      doc["website"],
		"categories":   record.ToArray(doc["categories"]),
		"statuses":     record.ToArray(doc["statuses"]),
		"year_started": record.ToInt(doc["year_started"]),
		"year_ended":   record.ToInt(doc["year_ended"]),
	}
}

// Tags keeps the name only.
func Tags(doc record.Record, ctx *Context) record.Record {
	return record.Record{"_id": doc["_id"], "name": doc["name"]}
}

// Genres keeps the name only.
func Genres(doc record.Record, ctx *Context) record.Record {
	return record.Record{"_id": doc["_id"], "name": doc["name"]}
}

// Publishers keeps the descriptive fields.
func Publishers(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":         doc["_id"],
		"name":        doc["name"],
		"description": doc["description"],
		"url":         doc["url"],
	}
}

// Formats promotes the format code to the identifier.
func Formats(doc record.Record, ctx *Context) record.Record {
	return record.Record{"_id": doc["format_id"], "name": doc["name"]}
}

// Languages promotes the language code to the identifier.
func Languages(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":   doc["language_id"],
		"name":  doc["name"],
		"code":  doc["code"],
		"class": doc["class"],
	}
}

// CreatorRoles promotes the role code to the identifier.
func CreatorRoles(doc record.Record, ctx *Context) record.Record {
	return record.Record{"_id": doc["cr_id"], "name": doc["name"]}
}

// ReadStatuses promotes the status code to the identifier.
func ReadStatuses(doc record.Record, ctx *Context) record.Record {
	return record.Record{"_id": doc["rstatus_id"], "name": doc["name"]}
}

// Countries promotes the country code to the identifier.
func Countries(doc record.Record, ctx *Context) record.Record {
	return record.Record{
		"_id":       doc["country_id"],
		"name":      doc["name"],
		"continent": doc["continent"],
	}
}
