// Package config provides configuration loading utilities, including the
// category-incompatibility table used by the Matcher's business-rule pass.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CategoryTable maps a CV structured title's inferred category to the set
// of JD categories it is considered incompatible with, so the Matcher can
// apply a penalty delta even when the raw vector similarity is high.
type CategoryTable struct {
	Incompatible map[string][]string `yaml:"incompatible"`
}

// LoadCategoryTable loads the category-incompatibility table from path. A
// missing file is not an error: the Matcher runs with an empty table and
// skips that business-rule adjustment.
func LoadCategoryTable(path string) (*CategoryTable, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCategoryTable: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return &CategoryTable{Incompatible: map[string][]string{}}, nil
	}

	// #nosec G304 -- path comes from trusted deployment configuration, not user input
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCategoryTable: read %s: %w", absPath, err)
	}

	var table CategoryTable
	if err := yaml.Unmarshal(content, &table); err != nil {
		return nil, fmt.Errorf("op=config.LoadCategoryTable: parse %s: %w", absPath, err)
	}
	if table.Incompatible == nil {
		table.Incompatible = map[string][]string{}
	}
	return &table, nil
}

// IsIncompatible reports whether cvCategory is listed as incompatible with
// jdCategory (checked in both directions since the table need not be
// symmetric in the YAML source).
func (t *CategoryTable) IsIncompatible(cvCategory, jdCategory string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Incompatible[cvCategory] {
		if c == jdCategory {
			return true
		}
	}
	for _, c := range t.Incompatible[jdCategory] {
		if c == cvCategory {
			return true
		}
	}
	return false
}
