// Package record defines the generic document unit that flows through
// every pipeline phase, plus the field coercion helpers shared by the
// per-collection transforms.
package record

import (
	"strconv"
	"strings"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Record is a mapping of field name to value. Every persisted record
// carries a durable "_id" identifier.
type Record map[string]any

// ID returns the record's durable identifier, or "" if absent.
func (r Record) ID() string {
	id, _ := r["_id"].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// GetString returns the value for key coerced to a string, or "" when
// the field is absent or not a string.
func (r Record) GetString(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clean removes keys with nil, empty-string, or empty-list values, and
// always strips the hash bookkeeping fields. When removeTS is set the
// mutation timestamp is stripped as well. Returns the cleaned record and
// the list of removed keys.
func Clean(doc Record, removeTS bool) (Record, []string) {
	drop := map[string]bool{"full_hash": true, "id_hash": true}
	if removeTS {
		drop["updated_at"] = true
	}

	clean := make(Record, len(doc))
	var removed []string
	for k, v := range doc {
		if drop[k] || isEmpty(v) {
			removed = append(removed, k)
			continue
		}
		clean[k] = v
	}
	return clean, removed
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case []Record:
		return len(val) == 0
	}
	return false
}

// SafeValue recursively normalizes values for hashing and JSON staging:
// time.Time becomes an ISO-8601 string, nested records and lists are
// walked, everything else passes through.
func SafeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case Record:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SafeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SafeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SafeValue(item)
		}
		return out
	case []Record:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SafeValue(item)
		}
		return out
	}
	return v
}

// timeFormats are tried in order when parsing source date strings.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
}

// ToTime parses a date string in any of the accepted source formats.
// Returns the zero time for blank or unparseable input.
func ToTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	logging.Error("Invalid date format", "value", s)
	return time.Time{}
}

// ToInt converts a value to an integer. Returns nil for nil or blank
// input so the scrub pass can drop the field.
func ToInt(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		if val == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			logging.Error("Invalid integer value", "value", val, "err", err)
			return nil
		}
		return n
	}
	return nil
}

// ToFloat converts a value to a float. Returns nil for nil or blank input.
func ToFloat(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		if val == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			logging.Error("Invalid float value", "value", val, "err", err)
			return nil
		}
		return f
	}
	return nil
}

// ToArray converts a comma-separated string into a list of trimmed,
// non-empty strings.
func ToArray(v any) []string {
	s, _ := v.(string)
	if s == "" {
		return []string{}
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

// FindDoc returns the first record in docs whose value for key equals
// value, or an empty record when no match is found.
func FindDoc(docs []Record, key string, value any) Record {
	for _, doc := range docs {
		if doc[key] == value {
			return doc
		}
	}
	return Record{}
}

// Flatten denormalizes nested subdocument fields into flat value lists
// using a field map of output field -> "parent.child" paths. A parent
// reassigned to its own name is overwritten in place; other referenced
// parents are removed. Fields the map does not mention are untouched,
// nested or not.
func Flatten(doc Record, fieldMap map[string]string) Record {
	out := doc.Clone()
	lists := map[string][]any{}

	for outField, path := range fieldMap {
		parent, child, ok := strings.Cut(path, ".")
		if !ok {
			continue
		}
		switch val := out[parent].(type) {
		case Record:
			if v, present := val[child]; present {
				lists[outField] = append(lists[outField], SafeValue(v))
			}
		case map[string]any:
			if v, present := val[child]; present {
				lists[outField] = append(lists[outField], SafeValue(v))
			}
		case []any:
			for _, item := range val {
				if sub, isMap := asMap(item); isMap {
					if v, present := sub[child]; present {
						lists[outField] = append(lists[outField], SafeValue(v))
					}
				}
			}
		}
	}

	// Remove source parents unless the map reassigns a parent to itself
	reassigned := map[string]bool{}
	for outField, path := range fieldMap {
		if parent, _, _ := strings.Cut(path, "."); outField == parent {
			reassigned[parent] = true
		}
	}
	for _, path := range fieldMap {
		if parent, _, _ := strings.Cut(path, "."); !reassigned[parent] {
			delete(out, parent)
		}
	}
	for field, values := range lists {
		out[field] = values
	}

	return out
}

// RemoveNested drops keys whose values are records or lists containing
// records. Graph node properties must be scalars or scalar lists.
func RemoveNested(doc Record) Record {
	for key, value := range doc {
		if _, isMap := asMap(value); isMap {
			delete(doc, key)
			continue
		}
		if list, isList := value.([]any); isList {
			for _, item := range list {
				if _, isMap := asMap(item); isMap {
					delete(doc, key)
					break
				}
			}
		}
		if _, isRecList := value.([]Record); isRecList {
			delete(doc, key)
		}
	}
	return doc
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case Record:
		return val, true
	case map[string]any:
		return val, true
	}
	return nil, false
}
