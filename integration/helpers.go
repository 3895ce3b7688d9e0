//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakePapermill copies the notebook and fails like a cell error when the
// notebook references undefined_param
const fakePapermill = `#!/bin/sh
input="$1"; output="$2"
echo "Input Notebook:  $input"
if grep -q undefined_param "$input"; then
  echo "NameError: name 'undefined_param' is not defined" >&2
  exit 1
fi
echo "Executing Cell 1"
cp "$input" "$output"
`

const fakeNbconvert = `#!/bin/sh
echo "<html></html>" > "${1%.ipynb}.html"
`

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	if p, err := filepath.Abs("../nb-runner"); err == nil {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../nb-runner", "../cmd/nb-runner")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../nb-runner")
	return abs
}

// workspace is a temp directory with fake tools, a config and a notebook
type workspace struct {
	dir        string
	configPath string
	notebook   string
	outputFile string
}

func newWorkspace(t *testing.T, notebookBody string) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		notebook:   filepath.Join(dir, "hello.ipynb"),
		outputFile: filepath.Join(dir, "github_output"),
	}

	writeFile(t, filepath.Join(dir, "papermill.sh"), fakePapermill, 0755)
	writeFile(t, filepath.Join(dir, "nbconvert.sh"), fakeNbconvert, 0755)
	writeFile(t, w.notebook, notebookBody, 0644)

	config := `[runner]
command = ["/bin/sh", "` + filepath.Join(dir, "papermill.sh") + `"]
poll_interval = "50ms"

[render]
enabled = true
command = ["/bin/sh", "` + filepath.Join(dir, "nbconvert.sh") + `"]

[store]
database_path = "` + filepath.Join(dir, "runs.db") + `"
`
	writeFile(t, w.configPath, config, 0644)
	return w
}

// run executes the CLI with action-style environment
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), append([]string{"--config", w.configPath}, args...)...)
	cmd.Env = append(os.Environ(),
		"INPUT_NOTEBOOK="+w.notebook,
		"INPUT_POLL=true",
		"GITHUB_WORKSPACE="+filepath.Join(w.dir, "workspace"),
		`RUNNER={"temp": "`+filepath.Join(w.dir, "temp")+`"}`,
		"GITHUB_ACTIONS=true",
		"GITHUB_OUTPUT="+w.outputFile,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (w *workspace) outputs(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(w.outputFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	outputs := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			outputs[k] = v
		}
	}
	return outputs
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}
