// Package secrets stages secret material for a notebook run and masks it in
// any output the runner echoes.
//
// Material is a JSON document, optionally sealed with age. It is written to
// disk once with owner-only permissions before any task starts; the notebook
// receives only its path.
package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

const (
	ageBinaryHeader = "age-encryption.org/"
	mask            = "***"

	// Shorter values would mask ordinary output.
	minMaskedLength = 4
)

// Stage decrypts material if needed, validates it as JSON and writes it to
// path with mode 0600. Empty material stages an empty object. The returned
// Redactor masks every string value found in the material.
func Stage(path string, material []byte, identityPath string) (*Redactor, error) {
	material = bytes.TrimSpace(material)
	if len(material) == 0 {
		material = []byte("{}")
	}

	if IsSealed(material) {
		opened, err := Open(material, identityPath)
		if err != nil {
			return nil, err
		}
		material = opened
	}

	var doc any
	if err := json.Unmarshal(material, &doc); err != nil {
		return nil, fmt.Errorf("secrets material is not valid JSON: %w", err)
	}

	compact, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding secrets material: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}
	if err := os.WriteFile(path, compact, 0600); err != nil {
		return nil, fmt.Errorf("writing secrets material: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0600); err != nil {
		return nil, fmt.Errorf("restricting secrets material: %w", err)
	}

	return NewRedactor(stringLeaves(doc)...), nil
}

// IsSealed reports whether material is an age payload, armored or binary
func IsSealed(material []byte) bool {
	return bytes.HasPrefix(material, []byte(armor.Header)) ||
		bytes.HasPrefix(material, []byte(ageBinaryHeader))
}

// Open decrypts an age payload with the identities in identityPath
func Open(material []byte, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("secrets material is age-encrypted but no identity file is configured")
	}

	identityFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening age identity: %w", err)
	}
	defer identityFile.Close()

	identities, err := age.ParseIdentities(identityFile)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	var src io.Reader = bytes.NewReader(material)
	if bytes.HasPrefix(material, []byte(armor.Header)) {
		src = armor.NewReader(src)
	}

	reader, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting secrets material: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted secrets material: %w", err)
	}
	return bytes.TrimSpace(plaintext), nil
}

func stringLeaves(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case map[string]any:
		var out []string
		for _, child := range val {
			out = append(out, stringLeaves(child)...)
		}
		return out
	case []any:
		var out []string
		for _, child := range val {
			out = append(out, stringLeaves(child)...)
		}
		return out
	default:
		return nil
	}
}

// Redactor replaces known secret values with a fixed mask
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a Redactor for values. Values shorter than four
// characters are ignored.
func NewRedactor(values ...string) *Redactor {
	seen := make(map[string]struct{})
	var keep []string
	for _, v := range values {
		if len(v) < minMaskedLength {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		keep = append(keep, v)
	}
	if len(keep) == 0 {
		return &Redactor{}
	}

	// Longest first so a secret containing another is masked whole.
	sort.Slice(keep, func(i, j int) bool { return len(keep[i]) > len(keep[j]) })
	pairs := make([]string, 0, len(keep)*2)
	for _, v := range keep {
		pairs = append(pairs, v, mask)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact masks secrets in s. A nil Redactor returns s unchanged.
func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}
