package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Environment variables that override secrets left empty in the file.
const (
	EnvOperatorToken = "OUTREACH_OPERATOR_TOKEN"
	EnvAPIToken      = "OUTREACH_API_TOKEN"
)

// Decode parses config bytes. YAML (by extension) is first converted to JSON
// so both formats share the strict decoder: unknown keys and trailing data
// are errors.
func Decode(path string, data []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		j, err := json.Marshal(stringKeys(tree))
		if err != nil {
			return nil, fmt.Errorf("yaml->json: %w", err)
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvOperatorToken)); v != "" && strings.TrimSpace(cfg.Operator.Token) == "" {
		cfg.Operator.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIToken)); v != "" && strings.TrimSpace(cfg.API.Token) == "" {
		cfg.API.Token = v
	}
}

// stringKeys rewrites YAML maps so the tree can be JSON-marshaled.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
