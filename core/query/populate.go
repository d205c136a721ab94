// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Populate requests the resolution of a reference field. Select projects the
// referenced documents, Populate resolves references of the referenced documents.
type Populate struct {
	Path     string
	Select   Projection
	Populate []Populate
}

// ParsePopulate parses populate parameters. A value is either a list of dotted paths
// like "author,comments.author", a JSON object {"path":"author","select":"name"} or a
// JSON array of paths and objects. Specifications for the same path are merged.
func ParsePopulate(values []string) ([]Populate, error) {
	var result []Populate
	for _, value := range values {
		value = strings.TrimSpace(value)
		var (
			specs []Populate
			err   error
		)
		switch {
		case strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{"):
			var raw interface{}
			if err = json.Unmarshal([]byte(value), &raw); err != nil {
				return nil, fmt.Errorf("cannot parse populate: %w", err)
			}
			specs, err = populateFromJSON(raw)
		default:
			for _, path := range strings.Split(value, ",") {
				path = strings.TrimSpace(path)
				if path == "" {
					continue
				}
				var p Populate
				if p, err = populatePath(path); err != nil {
					break
				}
				specs = append(specs, p)
			}
		}
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			result = mergePopulate(result, spec)
		}
	}
	return result, nil
}

// populatePath expands "a.b.c" into nested specifications
func populatePath(path string) (Populate, error) {
	if err := ValidField(path); err != nil {
		return Populate{}, err
	}
	parts := strings.Split(path, ".")
	p := Populate{Path: parts[len(parts)-1]}
	for i := len(parts) - 2; i >= 0; i-- {
		p = Populate{Path: parts[i], Populate: []Populate{p}}
	}
	return p, nil
}

func populateFromJSON(raw interface{}) ([]Populate, error) {
	switch v := raw.(type) {
	case string:
		return ParsePopulate([]string{v})
	case []interface{}:
		var specs []Populate
		for _, element := range v {
			s, err := populateFromJSON(element)
			if err != nil {
				return nil, err
			}
			specs = append(specs, s...)
		}
		return specs, nil
	case map[string]interface{}:
		path, ok := v["path"].(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("populate object requires a path")
		}
		for key := range v {
			if key != "path" && key != "select" && key != "populate" {
				return nil, fmt.Errorf("unknown populate property '%s'", key)
			}
		}
		var sel Projection
		switch s := v["select"].(type) {
		case nil:
		case string:
			var err error
			if sel, err = ParseProjection(s); err != nil {
				return nil, err
			}
		case map[string]interface{}:
			data, _ := json.Marshal(s)
			var err error
			if sel, err = ParseProjection(string(data)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("populate select for %s must be a string or an object", path)
		}
		var nested []Populate
		if n, ok := v["populate"]; ok {
			var err error
			if nested, err = populateFromJSON(n); err != nil {
				return nil, err
			}
		}
		p, err := populatePath(path)
		if err != nil {
			return nil, err
		}
		// select and nested populate apply to the innermost path
		leaf := &p
		for len(leaf.Populate) > 0 {
			leaf = &leaf.Populate[0]
		}
		leaf.Select = sel
		for _, n := range nested {
			leaf.Populate = mergePopulate(leaf.Populate, n)
		}
		return []Populate{p}, nil
	}
	return nil, fmt.Errorf("cannot parse populate")
}

func mergePopulate(list []Populate, p Populate) []Populate {
	for i := range list {
		if list[i].Path != p.Path {
			continue
		}
		if list[i].Select.IsEmpty() {
			list[i].Select = p.Select
		}
		for _, n := range p.Populate {
			list[i].Populate = mergePopulate(list[i].Populate, n)
		}
		return list
	}
	return append(list, p)
}

// Depth returns the nesting depth of the specifications, 0 for none
func Depth(specs []Populate) int {
	depth := 0
	for _, s := range specs {
		if d := 1 + Depth(s.Populate); d > depth {
			depth = d
		}
	}
	return depth
}
