// Package secure handles PII field encryption with a versioned key
// registry, and password hashing. Each encrypted document carries the
// key version it was written with so keys can rotate without a bulk
// re-encrypt.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Cipher encrypts and decrypts PII fields with AES-GCM keys from a
// version registry.
type Cipher struct {
	keys   map[string][]byte
	latest string
}

// Load reads a key registry from a JSON file mapping version labels to
// base64-encoded 256-bit keys.
func Load(path string) (*Cipher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key registry: %w", err)
	}

	var registry map[string]string
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("parse key registry: %w", err)
	}
	return New(registry)
}

// New builds a cipher from an in-memory registry. The latest version is
// the lexicographically greatest version label.
func New(registry map[string]string) (*Cipher, error) {
	if len(registry) == 0 {
		return nil, fmt.Errorf("key registry is empty")
	}

	keys := make(map[string][]byte, len(registry))
	versions := make([]string, 0, len(registry))
	for version, encoded := range registry {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", version, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %s: want 32 bytes, got %d", version, len(key))
		}
		keys[version] = key
		versions = append(versions, version)
	}

	sort.Strings(versions)
	return &Cipher{keys: keys, latest: versions[len(versions)-1]}, nil
}

// LatestVersion returns the version label new documents are written with.
func (c *Cipher) LatestVersion() string { return c.latest }

// Encrypt encrypts a field value with the key for version. Blank values
// and unknown versions pass through unchanged.
func (c *Cipher) Encrypt(value, version string) string {
	key, ok := c.keys[version]
	if value == "" || !ok {
		return value
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		logging.Error("Encrypt failed", "version", version, "err", err)
		return value
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		logging.Error("Encrypt failed", "version", version, "err", err)
		return value
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		logging.Error("Encrypt failed", "version", version, "err", err)
		return value
	}

	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt decrypts a field value with the key for version. Blank values
// and unknown versions pass through unchanged; a corrupt ciphertext is
// logged and passed through rather than failing the whole document.
func (c *Cipher) Decrypt(value, version string) string {
	key, ok := c.keys[version]
	if value == "" || !ok {
		return value
	}

	plain, err := c.open(value, key)
	if err != nil {
		logging.Error("Decrypt failed", "version", version, "err", err)
		return value
	}
	return plain
}

// open decrypts a base64 GCM ciphertext with key, reporting failures
// instead of passing the value through.
func (c *Cipher) open(value string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HashPassword hashes and salts a password for account storage.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks an entered password against a stored hash.
func VerifyPassword(entered, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(entered)) == nil
}
