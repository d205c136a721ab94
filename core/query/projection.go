// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/docrest/core/document"
)

// Projection is a field inclusion or exclusion list
type Projection struct {
	Fields  []string
	Exclude bool
}

// IsEmpty returns true if the projection selects the entire document
func (p Projection) IsEmpty() bool {
	return len(p.Fields) == 0
}

// ParseProjection parses "a,b", "a b", "-a,-b" or a JSON object like {"a":1} or {"a":0}.
// Inclusion and exclusion cannot be mixed. The keep fields are always part of the
// document, excluding them is ignored.
func ParseProjection(s string, keep ...string) (Projection, error) {
	var p Projection
	s = strings.TrimSpace(s)
	if s == "" {
		return p, nil
	}

	type item struct {
		field   string
		include bool
	}
	var items []item

	if strings.HasPrefix(s, "{") {
		var object map[string]interface{}
		if err := json.Unmarshal([]byte(s), &object); err != nil {
			return p, fmt.Errorf("cannot parse projection: %w", err)
		}
		keys := make([]string, 0, len(object))
		for key := range object {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			switch v := object[key].(type) {
			case bool:
				items = append(items, item{key, v})
			case float64:
				items = append(items, item{key, v != 0})
			default:
				return p, fmt.Errorf("projection value for %s must be 0, 1 or a boolean", key)
			}
		}
	} else {
		for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			switch {
			case strings.HasPrefix(field, "-"):
				items = append(items, item{field[1:], false})
			case strings.HasPrefix(field, "+"):
				items = append(items, item{field[1:], true})
			default:
				items = append(items, item{field, true})
			}
		}
	}

	seen := false
	for _, it := range items {
		if err := ValidField(it.field); err != nil {
			return p, err
		}
		if !it.include && contains(keep, it.field) {
			continue
		}
		if seen && it.include == p.Exclude {
			return p, fmt.Errorf("projection cannot mix inclusion and exclusion")
		}
		seen = true
		p.Exclude = !it.include
		p.Fields = append(p.Fields, it.field)
	}
	return p, nil
}

// keepFields returns the fields a projection of the configured resource cannot exclude
func keepFields(config Config) []string {
	keep := []string{document.FieldID}
	if config.PrimaryKey != "" {
		keep = append(keep, config.PrimaryKey)
	}
	return keep
}

// Apply returns a projected copy of the document. The keep fields, typically the
// primary key, are never projected away.
func (p Projection) Apply(doc document.Document, keep ...string) document.Document {
	if p.IsEmpty() {
		return doc
	}
	if p.Exclude {
		result := document.Clone(doc)
		for _, field := range p.Fields {
			if contains(keep, field) {
				continue
			}
			document.Remove(result, field)
		}
		return result
	}
	result := document.Document{}
	for _, field := range append(append([]string{}, keep...), p.Fields...) {
		if value, ok := document.Lookup(doc, field); ok {
			document.Set(result, field, value)
		}
	}
	return result
}

// Includes returns true if the projection keeps the top-level field
func (p Projection) Includes(field string) bool {
	if p.IsEmpty() {
		return true
	}
	for _, f := range p.Fields {
		root := strings.SplitN(f, ".", 2)[0]
		if p.Exclude && f == field {
			return false
		}
		if !p.Exclude && root == field {
			return true
		}
	}
	return p.Exclude
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
