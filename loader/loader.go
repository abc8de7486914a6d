// Package loader reads workflow definition documents from YAML or JSON files.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/workflow-fsm/types"
)

var extensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Parse decodes one definition document. JSON is accepted as a subset of YAML.
// States and actions without an explicit "enabled" key are enabled; unknown
// keys are an error.
func Parse(data []byte) (types.WorkflowDefinition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("failed to parse definition: %w", err)
	}
	if raw == nil {
		return types.WorkflowDefinition{}, fmt.Errorf("definition document is empty")
	}

	defaultEnabled(raw["states"])
	defaultEnabled(raw["actions"])

	var def types.WorkflowDefinition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "mapstructure",
		ErrorUnused: true,
		Result:      &def,
	})
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("failed to decode definition: %w", err)
	}
	return def, nil
}

func defaultEnabled(items interface{}) {
	list, ok := items.([]interface{})
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, set := m["enabled"]; !set {
			m["enabled"] = true
		}
	}
}

// LoadFile reads and parses the definition at path.
func LoadFile(path string) (types.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir parses every .yaml, .yml and .json file directly under dir, in file
// name order. Subdirectories are ignored.
func LoadDir(dir string) ([]types.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make([]types.WorkflowDefinition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
