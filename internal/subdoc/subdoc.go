// Package subdoc implements the declarative decoder registry that turns
// delimited scalar-encoded fields into structured nested records.
//
// Each registry entry pairs an optional match pattern with a decode
// function. A single generic driver then handles every collection's
// denormalized field; malformed entries are skipped with a warning,
// never fatal.
package subdoc

import (
	"regexp"
	"strings"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Entry is one decoder registration.
//
// When Pattern is nil the raw delimited token is passed directly to
// Decode as groups[0] (used for single-value lists). When Pattern is
// set, a token is accepted only on a successful match and Decode
// receives the submatch groups (groups[0] is the full match).
type Entry struct {
	Pattern *regexp.Regexp
	Decode  func(groups []string) any
}

// Registry maps a field key to its decoder entry.
type Registry map[string]Entry

// Decode parses a separator-delimited string into a list of decoded
// values using the registry entry for fieldKey. Entries are trimmed and
// empties discarded before decoding. Tokens that fail the entry's
// pattern are dropped with a logged warning.
func Decode(raw any, fieldKey string, registry Registry, separator string) []any {
	s, _ := raw.(string)
	if s == "" {
		return []any{}
	}

	entry, ok := registry[fieldKey]
	if !ok || entry.Decode == nil {
		logging.Error("Invalid subdocument config", "field", fieldKey)
		return []any{}
	}

	var entries []string
	for _, token := range strings.Split(s, separator) {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			entries = append(entries, trimmed)
		}
	}

	decoded := make([]any, 0, len(entries))
	for _, token := range entries {
		if entry.Pattern != nil {
			groups := entry.Pattern.FindStringSubmatch(token)
			if groups == nil {
				logging.Warn("No match for entry", "entry", token, "field", fieldKey)
				continue
			}
			decoded = append(decoded, entry.Decode(groups))
			continue
		}
		decoded = append(decoded, entry.Decode([]string{token}))
	}

	return decoded
}
