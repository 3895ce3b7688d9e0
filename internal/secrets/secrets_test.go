package secrets

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
)

func TestStage_WritesCompactJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner", "secrets.json")

	redactor, err := Stage(path, []byte(`{ "token": "s3cr3t-value", "nested": {"pw": "hunter22"} }`), "")
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"nested":{"pw":"hunter22"},"token":"s3cr3t-value"}` {
		t.Errorf("staged = %s", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got := redactor.Redact("token=s3cr3t-value pw=hunter22")
	if got != "token=*** pw=***" {
		t.Errorf("Redact = %q", got)
	}
}

func TestStage_EmptyMaterial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	if _, err := Stage(path, nil, ""); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{}" {
		t.Errorf("staged = %s, want {}", data)
	}
}

func TestStage_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	if _, err := Stage(path, []byte("not json"), ""); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid material must not be written")
	}
}

func TestStage_DecryptsArmoredAge(t *testing.T) {
	dir := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	identityPath := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var sealed bytes.Buffer
	armored := armor.NewWriter(&sealed)
	w, err := age.Encrypt(armored, identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(`{"apiKey": "abcd-1234"}`))
	w.Close()
	armored.Close()

	if !IsSealed(sealed.Bytes()) {
		t.Fatal("armored payload should be detected as sealed")
	}

	path := filepath.Join(dir, "secrets.json")
	redactor, err := Stage(path, sealed.Bytes(), identityPath)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"apiKey":"abcd-1234"}` {
		t.Errorf("staged = %s", data)
	}
	if redactor.Redact("key abcd-1234") != "key ***" {
		t.Error("decrypted values should be redacted")
	}
}

func TestStage_SealedWithoutIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	_, err := Stage(path, []byte("age-encryption.org/v1\n-> X25519 abc\n"), "")
	if err == nil || !strings.Contains(err.Error(), "identity") {
		t.Errorf("expected identity error, got %v", err)
	}
}

func TestRedactor(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		input  string
		want   string
	}{
		{"short values ignored", []string{"ab", "xyz"}, "ab xyz", "ab xyz"},
		{"overlapping", []string{"pass", "password1"}, "password1 pass", "*** ***"},
		{"no values", nil, "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRedactor(tt.values...).Redact(tt.input); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	var nilRedactor *Redactor
	if nilRedactor.Redact("x") != "x" {
		t.Error("nil redactor should pass input through")
	}
}
