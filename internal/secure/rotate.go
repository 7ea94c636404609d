package secure

import (
	"fmt"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// PIIFields lists the encrypted user fields covered by key rotation.
var PIIFields = []string{"email_address", "dob", "gender", "city", "state", "country"}

// RotateUsers re-encrypts the PII fields of every user written under an
// older key version to the latest one and bumps the document's
// key_version. Documents already on the latest version are untouched.
// Fields that cannot be decrypted with their recorded version are
// logged and left as they are. Returns the number of rotated documents.
func RotateUsers(st *store.Store, c *Cipher, ts time.Time) (int, error) {
	docs, err := st.Find("users", store.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("fetch users: %w", err)
	}

	var rotated []record.Record
	for _, doc := range docs {
		oldVersion := doc.GetString("key_version")
		if oldVersion == c.latest {
			continue
		}
		key, ok := c.keys[oldVersion]
		if !ok {
			logging.Warn("Skipping user with unknown key version",
				"id", doc.ID(), "version", oldVersion)
			continue
		}

		changed := false
		for _, field := range PIIFields {
			value := doc.GetString(field)
			if value == "" {
				continue
			}
			plain, err := c.open(value, key)
			if err != nil {
				logging.Warn("Failed to rotate field",
					"id", doc.ID(), "field", field, "err", err)
				continue
			}
			doc[field] = c.Encrypt(plain, c.latest)
			changed = true
		}
		if !changed {
			continue
		}

		doc["key_version"] = c.latest
		rotated = append(rotated, doc)
	}

	if len(rotated) == 0 {
		logging.Info("All user documents already on the latest key version", "version", c.latest)
		return 0, nil
	}
	if _, err := st.Upsert("users", rotated, ts); err != nil {
		return 0, fmt.Errorf("store rotated users: %w", err)
	}
	logging.Info("Rotated user documents", "count", len(rotated), "version", c.latest)
	return len(rotated), nil
}
