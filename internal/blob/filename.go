// Package blob mirrors source image URLs into Azure Blob Storage
// containers and tracks the uploaded inventory in the metadata
// collection.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
)

const hashLength = 20

// Filename derives the content-addressed blob name for a document's
// image, without extension for covers. Cover names hash the first
// usable unique identifier and carry a prefix encoding which one was
// used; profile images hash the handle.
func Filename(doc record.Record, imgType string) (string, error) {
	switch imgType {
	case "cover":
		for i, field := range []string{"isbn_13", "asin"} {
			value := strings.TrimSpace(asString(doc[field]))
			if value == "" {
				continue
			}
			digest := sha256.Sum256([]byte(value))
			return fmt.Sprintf("b%02d-%s", i+1, hex.EncodeToString(digest[:])[:hashLength]), nil
		}
		return "", fmt.Errorf("no usable unique identifier in book metadata")
	case "user", "club":
		handle := strings.TrimSpace(doc.GetString("handle"))
		if handle == "" {
			return "", fmt.Errorf("missing handle for profile image")
		}
		digest := sha256.Sum256([]byte(handle))
		return hex.EncodeToString(digest[:])[:hashLength] + ".jpg", nil
	}
	return "", fmt.Errorf("unknown image type %q", imgType)
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	return fmt.Sprint(v)
}

// Extension returns the file extension from a source URL's path,
// defaulting to ".jpg".
func Extension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	if ext := path.Ext(parsed.Path); ext != "" {
		return ext
	}
	return ".jpg"
}

// ImageURL generates the public blob URL a document's image will live
// at once synced. Returns "" when the document has no source URL.
func ImageURL(doc record.Record, sourceURL, imgType, container, account string) string {
	if strings.TrimSpace(sourceURL) == "" {
		return ""
	}

	name, err := Filename(doc, imgType)
	if err != nil {
		logging.Error("Failed to generate image URL", "type", imgType, "err", err)
		return ""
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s%s",
		account, container, name, Extension(sourceURL))
}
