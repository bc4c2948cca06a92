// Package catalog holds the schema catalog the guard grounds queries
// against: tables, column tags, and join edges. A built Catalog is
// immutable; concurrent readers share it freely and reloads swap the
// whole value through a Handle.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Tag classifies a column for safety decisions. PHI tags are authoritative:
// the guard never overrides them at query time.
type Tag string

const (
	TagIdentifier  Tag = "identifier"
	TagPHI         Tag = "phi"
	TagKey         Tag = "key"
	TagMeasure     Tag = "measure"
	TagCategorical Tag = "categorical"
	TagTemporal    Tag = "temporal"
	TagOther       Tag = "other"
)

// valid reports whether the tag is one of the known values.
func (t Tag) valid() bool {
	switch t {
	case TagIdentifier, TagPHI, TagKey, TagMeasure, TagCategorical, TagTemporal, TagOther:
		return true
	}
	return false
}

// Sensitive reports whether projecting this column raw exposes protected
// health information.
func (t Tag) Sensitive() bool {
	return t == TagIdentifier || t == TagPHI
}

// Confidence grades a join edge. Only two levels exist; "high" edges were
// confirmed against the live schema, "medium" ones are name-derived.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Column describes one column of a catalog table.
type Column struct {
	Name    string `yaml:"name"`
	Tag     Tag    `yaml:"tag,omitempty"`
	Type    string `yaml:"type,omitempty"`
	Comment string `yaml:"comment,omitempty"`
}

// JoinEdge describes a known join from one column to another table.
type JoinEdge struct {
	Column       string     `yaml:"column"`
	Table        string     `yaml:"table"`
	TargetColumn string     `yaml:"target"`
	Confidence   Confidence `yaml:"confidence"`
}

// Entry is one table in the catalog. Column order is preserved from the
// source document.
type Entry struct {
	Name    string     `yaml:"name"`
	Family  string     `yaml:"family,omitempty"`
	Columns []Column   `yaml:"columns"`
	Edges   []JoinEdge `yaml:"joins,omitempty"`

	byColumn map[string]*Column
}

// Column returns the column with the given name (case-insensitive).
func (e *Entry) Column(name string) (*Column, bool) {
	c, ok := e.byColumn[strings.ToLower(name)]
	return c, ok
}

// Catalog is an immutable set of table entries with case-normalized lookup:
// table names match case-insensitively and are stored uppercased, column
// names lowercased.
type Catalog struct {
	entries map[string]*Entry
	names   []string // sorted uppercase table names
}

// universalKeys are the join keys shared across the clinical schema:
// patient (hn), admission (an) and visit (vn) numbers.
var universalKeys = []string{"an", "hn", "vn"}

// build validates entries and assembles the lookup maps. Iteration order is
// deterministic regardless of source order.
func build(entries []Entry) (*Catalog, error) {
	cat := &Catalog{entries: make(map[string]*Entry, len(entries))}

	for i := range entries {
		e := entries[i]
		if e.Name == "" {
			return nil, fmt.Errorf("catalog: table %d has no name", i)
		}
		key := strings.ToUpper(e.Name)
		if _, dup := cat.entries[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate table %s", key)
		}
		if len(e.Columns) == 0 {
			return nil, fmt.Errorf("catalog: table %s has no columns", key)
		}

		e.Name = key
		e.byColumn = make(map[string]*Column, len(e.Columns))
		for j := range e.Columns {
			col := &e.Columns[j]
			col.Name = strings.ToLower(col.Name)
			if col.Tag == "" {
				// PHI inference happens at build time only: untagged columns
				// whose names look like protected fields are tagged phi.
				if IsPHIName(col.Name) {
					col.Tag = TagPHI
				} else {
					col.Tag = TagOther
				}
			}
			if !col.Tag.valid() {
				return nil, fmt.Errorf("catalog: table %s column %s has unknown tag %q", key, col.Name, col.Tag)
			}
			if _, dup := e.byColumn[col.Name]; dup {
				return nil, fmt.Errorf("catalog: table %s has duplicate column %s", key, col.Name)
			}
			e.byColumn[col.Name] = col
		}

		for j := range e.Edges {
			edge := &e.Edges[j]
			edge.Column = strings.ToLower(edge.Column)
			edge.Table = strings.ToUpper(edge.Table)
			edge.TargetColumn = strings.ToLower(edge.TargetColumn)
			if edge.Confidence == "" {
				edge.Confidence = ConfidenceMedium
			}
			if edge.Confidence != ConfidenceHigh && edge.Confidence != ConfidenceMedium {
				return nil, fmt.Errorf("catalog: table %s join on %s has unknown confidence %q", key, edge.Column, edge.Confidence)
			}
			if _, ok := e.byColumn[edge.Column]; !ok {
				return nil, fmt.Errorf("catalog: table %s join references unknown column %s", key, edge.Column)
			}
		}
		sortEdges(e.Edges)

		cat.entries[key] = &e
		cat.names = append(cat.names, key)
	}

	sort.Strings(cat.names)
	return cat, nil
}

// sortEdges orders join edges high-confidence first, then by target table
// and column. Callers rely on this order when picking a derivation path.
func sortEdges(edges []JoinEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence == ConfidenceHigh
		}
		if edges[i].Table != edges[j].Table {
			return edges[i].Table < edges[j].Table
		}
		if edges[i].Column != edges[j].Column {
			return edges[i].Column < edges[j].Column
		}
		return edges[i].TargetColumn < edges[j].TargetColumn
	})
}

// Resolve returns the entry for a table name, case-insensitively.
// Schema-qualified names resolve by their last segment.
func (c *Catalog) Resolve(table string) (*Entry, bool) {
	key := strings.ToUpper(table)
	if e, ok := c.entries[key]; ok {
		return e, true
	}
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		if e, ok := c.entries[key[idx+1:]]; ok {
			return e, true
		}
	}
	return nil, false
}

// ColumnTag returns the tag of table.column, case-insensitively.
func (c *Catalog) ColumnTag(table, column string) (Tag, bool) {
	e, ok := c.Resolve(table)
	if !ok {
		return "", false
	}
	col, ok := e.Column(column)
	if !ok {
		return "", false
	}
	return col.Tag, true
}

// JoinEdges returns the join edges departing from table.column, ordered
// high-confidence first. The returned slice must not be modified.
func (c *Catalog) JoinEdges(table, column string) []JoinEdge {
	e, ok := c.Resolve(table)
	if !ok {
		return nil
	}
	column = strings.ToLower(column)
	var edges []JoinEdge
	for _, edge := range e.Edges {
		if edge.Column == column {
			edges = append(edges, edge)
		}
	}
	return edges
}

// Tables returns all table names in sorted order.
func (c *Catalog) Tables() []string {
	return c.names
}

// Families returns table names grouped by family, with sorted members.
func (c *Catalog) Families() map[string][]string {
	fams := make(map[string][]string)
	for _, name := range c.names {
		e := c.entries[name]
		fam := e.Family
		if fam == "" {
			fam = "other"
		}
		fams[fam] = append(fams[fam], name)
	}
	return fams
}

// UniversalKeys returns the join keys shared across the schema (hn, an, vn,
// sorted). A column with one of these names links records for the same
// patient, admission, or visit in any table that carries it.
func (c *Catalog) UniversalKeys() []string {
	return universalKeys
}

// IsUniversalKey reports whether the column name is one of the shared keys.
func (c *Catalog) IsUniversalKey(column string) bool {
	column = strings.ToLower(column)
	for _, k := range universalKeys {
		if k == column {
			return true
		}
	}
	return false
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	return len(c.names)
}
