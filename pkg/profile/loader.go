package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// MaxFileSize is the maximum allowed profile file size (1MB)
	MaxFileSize = 1 * 1024 * 1024
)

// Loader reads profile YAML files from one directory
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadFile loads, validates and decodes a single profile file
func (l *Loader) LoadFile(path string) (*Profile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("file size %d exceeds maximum %d", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Decode to a generic document first so the schema sees exactly what
	// was written, then decode again into the typed struct.
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// LoadAll loads every profile file in the directory. Invalid files are
// returned as errors keyed by filename; valid profiles still load.
func (l *Loader) LoadAll() (map[string]*Profile, map[string]error, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read profile directory: %w", err)
	}

	profiles := make(map[string]*Profile)
	failures := make(map[string]error)
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		p, err := l.LoadFile(path)
		if err != nil {
			failures[entry.Name()] = err
			continue
		}
		profiles[p.Name] = p
	}
	return profiles, failures, nil
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
