// Package suite loads named test suites from YAML files.
//
// A suite file looks like:
//
//	id: add
//	name: Add two numbers
//	description: Implement add(a, b).
//	tests:
//	  - id: small
//	    input: print(add(1, 2))
//	    expected: "3"
//	  - id: hidden-negative
//	    input: print(add(-1, -2))
//	    expected: "-3"
//	    hidden: true
package suite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/codelab/harness"
)

// ErrNotFound is returned for an unknown suite id.
var ErrNotFound = errors.New("suite not found")

// Suite is a named, ordered list of test cases.
type Suite struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description,omitempty"`
	Tests       []harness.TestCase `yaml:"tests" json:"tests"`
}

// Validate checks the suite id and its test cases.
func (s *Suite) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("suite id must not be empty")
	}

	seen := make(map[string]bool, len(s.Tests))
	for i, tc := range s.Tests {
		if tc.ID == "" {
			return fmt.Errorf("suite %s: test %d has no id", s.ID, i)
		}
		if seen[tc.ID] {
			return fmt.Errorf("suite %s: duplicate test id %q", s.ID, tc.ID)
		}
		seen[tc.ID] = true
		if strings.TrimSpace(tc.Input) == "" {
			return fmt.Errorf("suite %s: test %s has no input", s.ID, tc.ID)
		}
	}
	return nil
}

// Parse decodes and validates a suite document.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Registry holds suites by id.
type Registry struct {
	suites map[string]*Suite
}

// NewRegistry builds a registry from suites, rejecting duplicate ids.
func NewRegistry(suites ...*Suite) (*Registry, error) {
	r := &Registry{suites: make(map[string]*Suite, len(suites))}
	for _, s := range suites {
		if _, dup := r.suites[s.ID]; dup {
			return nil, fmt.Errorf("duplicate suite id %q", s.ID)
		}
		r.suites[s.ID] = s
	}
	return r, nil
}

// LoadDir loads every *.yaml and *.yml file in dir. An empty dir yields an
// empty registry.
func LoadDir(dir string) (*Registry, error) {
	if dir == "" {
		return NewRegistry()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read suites directory: %w", err)
	}

	var suites []*Suite
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return NewRegistry(suites...)
}

// Get returns the suite with the given id.
func (r *Registry) Get(id string) (*Suite, error) {
	s, ok := r.suites[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// IDs returns the sorted suite ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.suites))
	for id := range r.suites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
