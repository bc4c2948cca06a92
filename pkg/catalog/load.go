package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the YAML shape of a catalog source file.
//
//	tables:
//	  - name: OVST
//	    family: visit
//	    columns:
//	      - {name: hn, tag: identifier, type: varchar}
//	      - {name: vstdate, tag: temporal, type: date}
//	    joins:
//	      - {column: hn, table: PATIENT, target: hn, confidence: high}
type document struct {
	Tables []Entry `yaml:"tables"`
}

// Load reads a catalog document and builds an immutable Catalog.
// Building is pure and deterministic: the same document always yields
// the same catalog.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read source: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse source: %w", err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("catalog: source defines no tables")
	}

	return build(doc.Tables)
}

// LoadFile reads and builds a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	cat, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", path, err)
	}
	return cat, nil
}

// Save writes the catalog back out as a YAML document, tables in sorted
// order. Round-tripping through Load yields an equal catalog.
func (c *Catalog) Save(w io.Writer) error {
	doc := document{Tables: make([]Entry, 0, len(c.names))}
	for _, name := range c.names {
		doc.Tables = append(doc.Tables, *c.entries[name])
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	return enc.Close()
}
