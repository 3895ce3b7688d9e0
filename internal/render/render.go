// Package render converts executed notebooks into distributable documents
// with jupyter nbconvert.
package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultCommand is the nbconvert entry point installed alongside papermill
var DefaultCommand = []string{"jupyter", "nbconvert"}

// Config configures the renderer
type Config struct {
	Command   []string // DefaultCommand when empty
	Format    string   // nbconvert --to target, "html" when empty
	ExtraArgs []string
}

// Renderer runs nbconvert
type Renderer struct {
	config Config
	logger *slog.Logger
}

// New creates a Renderer
func New(config Config, logger *slog.Logger) *Renderer {
	if len(config.Command) == 0 {
		config.Command = DefaultCommand
	}
	if config.Format == "" {
		config.Format = "html"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{config: config, logger: logger.With("component", "render")}
}

// Render converts artifactPath and returns the path of the rendered file,
// which nbconvert places next to the artifact.
func (r *Renderer) Render(ctx context.Context, artifactPath string) (string, error) {
	args := append(r.config.Command[1:len(r.config.Command):len(r.config.Command)],
		artifactPath, "--to", r.config.Format)
	args = append(args, r.config.ExtraArgs...)

	cmd := exec.CommandContext(ctx, r.config.Command[0], args...)
	r.logger.Info("rendering artifact", "artifact", artifactPath, "format", r.config.Format)

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("nbconvert: %s: %w", strings.TrimSpace(string(out)), err)
	}

	rendered := RenderedPath(artifactPath, r.config.Format)
	if _, err := os.Stat(rendered); err != nil {
		return "", fmt.Errorf("nbconvert produced no output: %w", err)
	}
	return rendered, nil
}

// RenderedPath returns where nbconvert writes the converted artifact
func RenderedPath(artifactPath, format string) string {
	ext := extensionFor(format)
	return strings.TrimSuffix(artifactPath, filepath.Ext(artifactPath)) + ext
}

func extensionFor(format string) string {
	switch format {
	case "markdown":
		return ".md"
	case "latex":
		return ".tex"
	case "python", "script":
		return ".py"
	case "notebook":
		return ".nbconvert.ipynb"
	case "asciidoc":
		return ".asciidoc"
	case "rst":
		return ".rst"
	default:
		return "." + format
	}
}
