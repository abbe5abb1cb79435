package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Version string            `json:"version,omitempty" yaml:"version,omitempty"`
	Models  []ModelDescriptor `json:"models" yaml:"models"`
}

// Load reads a catalog from a single file or from every *.json, *.yaml and
// *.yml file in a directory (read in name order). Any unreadable file fails the
// whole load.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read dir: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() || !isCatalogFile(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	}

	var models []ModelDescriptor
	for _, f := range files {
		cf, err := readFile(f)
		if err != nil {
			return nil, err
		}
		models = append(models, cf.Models...)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog: no models found in %s", path)
	}
	return New(models)
}

func isCatalogFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func readFile(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var cf catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cf)
	default:
		err = json.Unmarshal(data, &cf)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &cf, nil
}
