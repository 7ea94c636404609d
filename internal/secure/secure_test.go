package secure

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(map[string]string{
		"v1": base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		"v2": base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210")),
	})
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	plain := "lagos, nigeria"
	sealed := c.Encrypt(plain, "v2")
	if sealed == plain {
		t.Fatalf("value not encrypted")
	}
	if got := c.Decrypt(sealed, "v2"); got != plain {
		t.Errorf("round trip = %q, want %q", got, plain)
	}

	// Nonces differ per call, ciphertexts are never stable
	if c.Encrypt(plain, "v2") == sealed {
		t.Errorf("repeated encryption produced identical ciphertext")
	}
}

func TestCipherPassThrough(t *testing.T) {
	c := testCipher(t)

	if got := c.Encrypt("", "v1"); got != "" {
		t.Errorf("blank encrypt = %q", got)
	}
	if got := c.Encrypt("secret", "v99"); got != "secret" {
		t.Errorf("unknown version encrypt = %q", got)
	}
	if got := c.Decrypt("secret", "v99"); got != "secret" {
		t.Errorf("unknown version decrypt = %q", got)
	}

	// Corrupt ciphertext comes back unchanged rather than failing
	if got := c.Decrypt("not base64!!", "v1"); got != "not base64!!" {
		t.Errorf("corrupt decrypt = %q", got)
	}
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if got := c.Decrypt(short, "v1"); got != short {
		t.Errorf("short ciphertext decrypt = %q", got)
	}

	// Wrong key version passes the value through too
	sealed := c.Encrypt("secret", "v1")
	if got := c.Decrypt(sealed, "v2"); got != sealed {
		t.Errorf("wrong-key decrypt = %q", got)
	}
}

func TestLatestVersion(t *testing.T) {
	c := testCipher(t)
	if c.LatestVersion() != "v2" {
		t.Errorf("latest = %q, want v2", c.LatestVersion())
	}
}

func TestNewRejectsBadRegistries(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Errorf("empty registry accepted")
	}
	if _, err := New(map[string]string{"v1": "not base64!!"}); err == nil {
		t.Errorf("undecodable key accepted")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := New(map[string]string{"v1": short}); err == nil {
		t.Errorf("wrong-length key accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hashed, err := HashPassword("melange")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashed == "melange" || !strings.HasPrefix(hashed, "$2") {
		t.Errorf("hash = %q", hashed)
	}
	if !VerifyPassword("melange", hashed) {
		t.Errorf("correct password rejected")
	}
	if VerifyPassword("water", hashed) {
		t.Errorf("wrong password accepted")
	}
}
