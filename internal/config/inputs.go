package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Inputs are the per-invocation values supplied by the automation job
type Inputs struct {
	Notebook   string
	Params     string
	IsReport   bool
	Poll       bool
	OutputPath string
	TempDir    string
	Secrets    string // Raw secrets material, JSON or age-encrypted
}

// Getenv matches os.Getenv
type Getenv func(key string) string

type runnerContext struct {
	Temp string `json:"temp"`
}

// InputsFromEnv reads action-style inputs: INPUT_<NAME> variables plus the
// RUNNER and SECRETS JSON documents.
func InputsFromEnv(getenv Getenv) (Inputs, error) {
	in := Inputs{
		Notebook: strings.TrimSpace(getenv("INPUT_NOTEBOOK")),
		Params:   strings.TrimSpace(getenv("INPUT_PARAMS")),
		IsReport: ParseFlag(getenv("INPUT_ISREPORT")),
		Poll:     ParseFlag(getenv("INPUT_POLL")),
		Secrets:  getenv("SECRETS"),
	}

	in.OutputPath = strings.TrimSpace(getenv("INPUT_OUTPUTPATH"))
	if in.OutputPath == "" {
		in.OutputPath = getenv("GITHUB_WORKSPACE")
	}
	if in.OutputPath == "" {
		in.OutputPath = "."
	}

	in.TempDir = os.TempDir()
	if raw := getenv("RUNNER"); raw != "" {
		var rc runnerContext
		if err := json.Unmarshal([]byte(raw), &rc); err != nil {
			return Inputs{}, fmt.Errorf("parsing RUNNER context: %w", err)
		}
		if rc.Temp != "" {
			in.TempDir = rc.Temp
		}
	}
	return in, nil
}

// ParseFlag interprets a boolean-like input. Empty is false, anything
// strconv.ParseBool understands is honoured, and any other text is true.
func ParseFlag(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return true
}

// BindFlags registers flags that override the environment-derived inputs
func (in *Inputs) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&in.Notebook, "notebook", in.Notebook, "notebook to execute (INPUT_NOTEBOOK)")
	fs.StringVar(&in.Params, "params", in.Params, "JSON, JSONC or YAML parameters file (INPUT_PARAMS)")
	fs.BoolVar(&in.IsReport, "report", in.IsReport, "hide code cells in the artifact (INPUT_ISREPORT)")
	fs.BoolVar(&in.Poll, "poll", in.Poll, "echo the progress log tail while running (INPUT_POLL)")
	fs.StringVar(&in.OutputPath, "output-path", in.OutputPath, "root for artifacts and the progress log (INPUT_OUTPUTPATH)")
	fs.StringVar(&in.TempDir, "temp-dir", in.TempDir, "directory for staged secrets and parameter files")
}
