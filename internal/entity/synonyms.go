package entity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SynonymTable maps folded surface forms to their canonical replacement.
// Tables are versioned so normalization stays reproducible: the same input
// against the same table version always yields the same canonical key.
type SynonymTable struct {
	version    string
	global     map[string]string
	byCategory map[Category]map[string]string
}

type synonymFile struct {
	Version    string                       `yaml:"version"`
	Aliases    map[string]string            `yaml:"aliases"`
	Categories map[string]map[string]string `yaml:"categories"`
}

// LoadSynonymTable reads a versioned synonym table from a YAML file.
func LoadSynonymTable(path string) (*SynonymTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonym table %s: %w", path, err)
	}
	t, err := ParseSynonymTable(data)
	if err != nil {
		return nil, fmt.Errorf("parsing synonym table %s: %w", path, err)
	}
	return t, nil
}

// ParseSynonymTable parses synonym table YAML. Both alias keys and their
// replacements are folded with the same rules as canonical keys, so lookups
// hit regardless of the casing or punctuation used in the table.
func ParseSynonymTable(data []byte) (*SynonymTable, error) {
	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Version == "" {
		return nil, fmt.Errorf("synonym table missing version")
	}

	t := &SynonymTable{
		version:    f.Version,
		global:     make(map[string]string, len(f.Aliases)),
		byCategory: make(map[Category]map[string]string, len(f.Categories)),
	}
	for alias, canonical := range f.Aliases {
		t.global[foldKey(alias)] = foldKey(canonical)
	}
	for cat, aliases := range f.Categories {
		category, err := ParseCategory(cat)
		if err != nil {
			return nil, err
		}
		m := make(map[string]string, len(aliases))
		for alias, canonical := range aliases {
			m[foldKey(alias)] = foldKey(canonical)
		}
		t.byCategory[category] = m
	}
	return t, nil
}

// DefaultSynonymTable returns the built-in table used when no external table
// is configured.
func DefaultSynonymTable() *SynonymTable {
	t, err := ParseSynonymTable([]byte(defaultSynonymYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in synonym table invalid: %v", err))
	}
	return t
}

// Version returns the table version string.
func (t *SynonymTable) Version() string {
	return t.version
}

// Lookup resolves a folded key to its canonical replacement. Category-scoped
// aliases win over global ones.
func (t *SynonymTable) Lookup(category Category, key string) (string, bool) {
	if m, ok := t.byCategory[category]; ok {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	v, ok := t.global[key]
	return v, ok
}

const defaultSynonymYAML = `
version: builtin-1
aliases:
  ig: instagram
  insta: instagram
  yt: youtube
  diy: do it yourself
categories:
  location:
    nyc: new york
    sf: san francisco
    la: los angeles
    cdmx: mexico city
`
