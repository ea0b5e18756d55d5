package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLImporter handles .yaml and .yml export files.
type YAMLImporter struct{}

// CanHandle returns true for YAML file extensions.
func (y *YAMLImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Import parses a YAML export. The same shapes as JSON are accepted: a bare
// sequence of records or a mapping with an "items" key.
func (y *YAMLImporter) Import(_ context.Context, path string) ([]ExportRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var records []ExportRecord
	if err := yaml.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Items []ExportRecord `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return wrapped.Items, nil
}
