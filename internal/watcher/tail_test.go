package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTail(t *testing.T) {
	dir := t.TempDir()

	var long strings.Builder
	for i := 1; i <= 2000; i++ {
		fmt.Fprintf(&long, "line %d\n", i)
	}

	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"empty file", "", 15, nil},
		{"fewer lines than requested", "a\nb\n", 15, []string{"a", "b"}},
		{"no trailing newline", "a\nb\nc", 2, []string{"b", "c"}},
		{"crlf", "a\r\nb\r\n", 5, []string{"a", "b"}},
		{"spans chunks", long.String(), 3, []string{"line 1998", "line 1999", "line 2000"}},
		{"zero lines", "a\n", 0, nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("log-%d", i))
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			got, err := Tail(path, tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Tail = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTail_MissingFile(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "missing.out"), 15)
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Tail = %q, want empty", got)
	}
}

func TestTail_LongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	line := strings.Repeat("x", 10000)
	os.WriteFile(path, []byte("first\n"+line+"\n"+line+"\n"), 0644)

	got, err := Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != line || got[1] != line {
		t.Errorf("Tail returned %d lines, want the two long lines", len(got))
	}
}
