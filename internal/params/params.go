// Package params resolves the parameter set a notebook run is bound to.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/nb-runner/internal/domain"
)

// Load reads base parameters from path and overlays injected on top of them.
// A missing file yields just the injected parameters. Content that is not a
// single object fails with a configuration error.
func Load(path string, injected domain.ParameterSet) (domain.ParameterSet, error) {
	base, err := readFile(path)
	if err != nil {
		return nil, domain.ConfigurationError(err)
	}
	return Merge(base, injected), nil
}

// Merge returns base overlaid with injected. Injected keys always win.
func Merge(base, injected domain.ParameterSet) domain.ParameterSet {
	merged := make(domain.ParameterSet, len(base)+len(injected))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range injected {
		merged[k] = v
	}
	return merged
}

// WriteFile serializes params as a JSON object readable by papermill's
// --parameters_file flag.
func WriteFile(path string, params domain.ParameterSet) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func readFile(path string) (domain.ParameterSet, error) {
	if path == "" {
		return domain.ParameterSet{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ParameterSet{}, nil
		}
		return nil, fmt.Errorf("reading parameters %s: %w", path, err)
	}

	var params domain.ParameterSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &params); err == nil {
			err = normalizeYAML(params)
		}
	case ".jsonc":
		err = decodeJSON(jsonc.ToJSON(data), &params)
	default:
		err = decodeJSON(data, &params)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing parameters %s: %w", path, err)
	}
	if params == nil {
		return nil, fmt.Errorf("parsing parameters %s: content is not an object", path)
	}
	return params, nil
}

// decodeJSON keeps numbers as json.Number so integers are passed to the
// notebook exactly as written.
func decodeJSON(data []byte, v *domain.ParameterSet) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected content after parameters object")
	}
	return nil
}

// normalizeYAML rewrites nested maps with non-string keys into JSON objects
// and rejects values papermill's JSON parameter file cannot carry.
func normalizeYAML(params domain.ParameterSet) error {
	for k, v := range params {
		params[k] = jsonCompatible(v)
	}
	if _, err := json.Marshal(params); err != nil {
		return fmt.Errorf("parameters are not JSON-compatible: %w", err)
	}
	return nil
}

func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = jsonCompatible(inner)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[fmt.Sprint(k)] = jsonCompatible(inner)
		}
		return m
	case []any:
		for i, inner := range t {
			t[i] = jsonCompatible(inner)
		}
		return t
	default:
		return v
	}
}
