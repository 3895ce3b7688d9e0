package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Runner.TailLines != 15 {
		t.Errorf("TailLines = %d, want 15", cfg.Runner.TailLines)
	}
	interval, err := cfg.Runner.PollIntervalDuration()
	if err != nil || interval != 15*time.Second {
		t.Errorf("PollInterval = %v (%v), want 15s", interval, err)
	}
	timeout, err := cfg.Runner.TimeoutDuration()
	if err != nil || timeout != 0 {
		t.Errorf("Timeout = %v (%v), want none", timeout, err)
	}
	if !cfg.Render.Enabled || cfg.Render.Format != "html" {
		t.Errorf("Render = %+v, want html enabled", cfg.Render)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.TailLines != 15 {
		t.Error("missing file should yield defaults")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[runner]
command = ["/opt/venv/bin/papermill"]
kernel = "python3"
timeout = "2h"
poll_interval = "30s"
tail_lines = 40

[store]
database_path = "~/runs.db"

[publish]
endpoint = "s3.local:9000"
bucket = "reports"
prefix = "nightly"

[progress]
listen = "127.0.0.1:8090"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(cfg.Runner.Command, " ") != "/opt/venv/bin/papermill" {
		t.Errorf("Command = %v", cfg.Runner.Command)
	}
	if timeout, _ := cfg.Runner.TimeoutDuration(); timeout != 2*time.Hour {
		t.Errorf("Timeout = %v, want 2h", timeout)
	}
	if cfg.Runner.TailLines != 40 {
		t.Errorf("TailLines = %d, want 40", cfg.Runner.TailLines)
	}
	home, _ := os.UserHomeDir()
	if cfg.Store.DatabasePath != filepath.Join(home, "runs.db") {
		t.Errorf("DatabasePath = %q, want expanded", cfg.Store.DatabasePath)
	}
	if cfg.Publish.Bucket != "reports" || cfg.Progress.Listen != "127.0.0.1:8090" {
		t.Errorf("Publish/Progress not loaded: %+v %+v", cfg.Publish, cfg.Progress)
	}
	if !cfg.Render.Enabled {
		t.Error("unset sections should keep their defaults")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "[runner\n"},
		{"bad timeout", "[runner]\ntimeout = \"soon\"\n"},
		{"zero interval", "[runner]\npoll_interval = \"0s\"\n"},
		{"bucketless publish", "[publish]\nendpoint = \"s3.local\"\n"},
		{"empty command", "[runner]\ncommand = []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			os.WriteFile(path, []byte(tt.content), 0644)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func envMap(m map[string]string) Getenv {
	return func(key string) string { return m[key] }
}

func TestInputsFromEnv(t *testing.T) {
	in, err := InputsFromEnv(envMap(map[string]string{
		"INPUT_NOTEBOOK":   "notebooks/hello.ipynb",
		"INPUT_PARAMS":     "params.json",
		"INPUT_ISREPORT":   "true",
		"INPUT_POLL":       "yes",
		"GITHUB_WORKSPACE": "/github/workspace",
		"RUNNER":           `{"os": "Linux", "temp": "/home/runner/work/_temp"}`,
		"SECRETS":          `{"token": "x"}`,
	}))
	if err != nil {
		t.Fatal(err)
	}

	if in.Notebook != "notebooks/hello.ipynb" || in.Params != "params.json" {
		t.Errorf("inputs = %+v", in)
	}
	if !in.IsReport || !in.Poll {
		t.Errorf("flags = report:%v poll:%v, want both true", in.IsReport, in.Poll)
	}
	if in.OutputPath != "/github/workspace" {
		t.Errorf("OutputPath = %q, want workspace fallback", in.OutputPath)
	}
	if in.TempDir != "/home/runner/work/_temp" {
		t.Errorf("TempDir = %q", in.TempDir)
	}
	if in.Secrets != `{"token": "x"}` {
		t.Errorf("Secrets = %q", in.Secrets)
	}
}

func TestInputsFromEnv_Defaults(t *testing.T) {
	in, err := InputsFromEnv(envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if in.OutputPath != "." {
		t.Errorf("OutputPath = %q, want .", in.OutputPath)
	}
	if in.TempDir != os.TempDir() {
		t.Errorf("TempDir = %q, want %q", in.TempDir, os.TempDir())
	}
}

func TestInputsFromEnv_BadRunnerContext(t *testing.T) {
	if _, err := InputsFromEnv(envMap(map[string]string{"RUNNER": "{"})); err == nil {
		t.Error("expected error for malformed RUNNER")
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"  ", false},
		{"false", false},
		{"0", false},
		{"true", true},
		{"1", true},
		{"yes", true},
	}
	for _, tt := range tests {
		if got := ParseFlag(tt.in); got != tt.want {
			t.Errorf("ParseFlag(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInputs_BindFlags(t *testing.T) {
	in := Inputs{Notebook: "from-env.ipynb", OutputPath: "."}
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	in.BindFlags(fs)

	if err := fs.Parse([]string{"--notebook", "cli.ipynb", "--poll"}); err != nil {
		t.Fatal(err)
	}
	if in.Notebook != "cli.ipynb" {
		t.Errorf("Notebook = %q, want flag override", in.Notebook)
	}
	if !in.Poll {
		t.Error("Poll should be set by flag")
	}
	if in.OutputPath != "." {
		t.Errorf("OutputPath = %q, env default should survive", in.OutputPath)
	}
}
