// Package concepts loads the clinical concept library: named definitions
// (diagnoses, lab panels, care bundles) the query generator can reference
// by name instead of inventing its own ICD filters.
package concepts

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BundleLogic describes how multi-part concepts group their events.
type BundleLogic string

const (
	BundleSameVisit BundleLogic = "same_visit"
	BundleSameDay   BundleLogic = "same_day"
	BundleSameOrder BundleLogic = "same_order"
)

// Concept is one clinical concept definition.
type Concept struct {
	Name        string      `yaml:"-"`
	Description string      `yaml:"description"`
	Condition   string      `yaml:"condition,omitempty"` // SQL WHERE fragment
	ICD10Codes  []string    `yaml:"icd10_codes,omitempty"`
	ICD9Codes   []string    `yaml:"icd9_codes,omitempty"`
	Tests       []string    `yaml:"tests,omitempty"` // lab test names
	BundleLogic BundleLogic `yaml:"bundle_logic,omitempty"`
	Tables      []string    `yaml:"tables,omitempty"`
	Notes       string      `yaml:"notes,omitempty"`
}

// Library is an immutable collection of concepts keyed by name.
type Library struct {
	concepts map[string]*Concept
	names    []string
}

// Load reads a concept library document: a YAML map of name -> definition.
func Load(r io.Reader) (*Library, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("concepts: read source: %w", err)
	}

	raw := map[string]*Concept{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("concepts: parse source: %w", err)
	}

	lib := &Library{concepts: make(map[string]*Concept, len(raw))}
	for name, c := range raw {
		if c == nil {
			c = &Concept{}
		}
		c.Name = name
		if c.BundleLogic != "" {
			switch c.BundleLogic {
			case BundleSameVisit, BundleSameDay, BundleSameOrder:
			default:
				return nil, fmt.Errorf("concepts: %s has unknown bundle_logic %q", name, c.BundleLogic)
			}
		}
		lib.concepts[name] = c
		lib.names = append(lib.names, name)
	}
	sort.Strings(lib.names)
	return lib, nil
}

// LoadFile reads a concept library from a YAML file. A missing file yields
// an empty library, matching how deployments start before any concepts are
// curated.
func LoadFile(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Library{concepts: map[string]*Concept{}}, nil
		}
		return nil, fmt.Errorf("concepts: open %s: %w", path, err)
	}
	defer f.Close()

	lib, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("concepts: load %s: %w", path, err)
	}
	return lib, nil
}

// Get returns the concept with the given name.
func (l *Library) Get(name string) (*Concept, bool) {
	c, ok := l.concepts[name]
	return c, ok
}

// Names returns all concept names in sorted order.
func (l *Library) Names() []string {
	return l.names
}

// Len returns the number of concepts.
func (l *Library) Len() int {
	return len(l.names)
}

// Search returns concepts whose name or description contains the query,
// case-insensitively, in name order.
func (l *Library) Search(query string) []*Concept {
	query = strings.ToLower(query)
	var out []*Concept
	for _, name := range l.names {
		c := l.concepts[name]
		if strings.Contains(strings.ToLower(c.Name), query) ||
			strings.Contains(strings.ToLower(c.Description), query) {
			out = append(out, c)
		}
	}
	return out
}

// Save writes the library as a YAML map in name order.
func (l *Library) Save(w io.Writer) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range l.names {
		var val yaml.Node
		if err := val.Encode(l.concepts[name]); err != nil {
			return fmt.Errorf("concepts: encode %s: %w", name, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name},
			&val,
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("concepts: encode: %w", err)
	}
	return enc.Close()
}
