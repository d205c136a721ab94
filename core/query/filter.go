// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/docrest/core/document"
)

// Operator is a comparison operator of a filter condition
type Operator string

// all supported filter operators
const (
	OpEq     Operator = "$eq"
	OpNe     Operator = "$ne"
	OpGt     Operator = "$gt"
	OpGte    Operator = "$gte"
	OpLt     Operator = "$lt"
	OpLte    Operator = "$lte"
	OpIn     Operator = "$in"
	OpNin    Operator = "$nin"
	OpExists Operator = "$exists"
	OpLike   Operator = "$like"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpExists, OpLike:
		return true
	}
	return false
}

// Condition compares the value at a dotted field path with a value.
//
// Text conditions compare the textual representation of the stored value
// with a string, this is what the simple filter form "property=value" produces.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
	Text     bool
}

// IsText returns true if the condition compares textual representations. System
// fields are always compared by their native type.
func (c Condition) IsText() bool {
	return (c.Text || c.Operator == OpLike) && !document.IsSystemField(c.Field)
}

// Filter is a conjunction of conditions. And holds nested filters which must
// all match, Or holds alternatives of which at least one must match.
type Filter struct {
	Conditions []Condition
	And        []Filter
	Or         []Filter
}

// IsEmpty returns true if the filter matches everything
func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0 && len(f.And) == 0 && len(f.Or) == 0
}

// Where returns a copy of the filter with one more condition
func (f Filter) Where(field string, operator Operator, value interface{}) Filter {
	f.Conditions = append(append([]Condition{}, f.Conditions...), Condition{Field: field, Operator: operator, Value: value})
	return f
}

// ByIDs returns a filter which matches the documents with the given primary keys
func ByIDs(ids []string) Filter {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return Filter{}.Where(document.FieldID, OpIn, values)
}

// Fields returns all field paths the filter refers to
func (f Filter) Fields() []string {
	var fields []string
	for _, c := range f.Conditions {
		fields = append(fields, c.Field)
	}
	for _, sub := range f.And {
		fields = append(fields, sub.Fields()...)
	}
	for _, sub := range f.Or {
		fields = append(fields, sub.Fields()...)
	}
	return fields
}

// Rename returns a copy of the filter where field from is renamed to field to
func (f Filter) Rename(from, to string) Filter {
	var r Filter
	for _, c := range f.Conditions {
		if c.Field == from {
			c.Field = to
		}
		r.Conditions = append(r.Conditions, c)
	}
	for _, sub := range f.And {
		r.And = append(r.And, sub.Rename(from, to))
	}
	for _, sub := range f.Or {
		r.Or = append(r.Or, sub.Rename(from, to))
	}
	return r
}

// Merge returns the conjunction of both filters
func (f Filter) Merge(other Filter) Filter {
	if other.IsEmpty() {
		return f
	}
	if f.IsEmpty() {
		return other
	}
	return Filter{And: []Filter{f, other}}
}

var validField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z_][A-Za-z0-9_\-]*)*$`)

// ValidField returns an error if name is not a valid dotted field path
func ValidField(name string) error {
	if !validField.MatchString(name) {
		return fmt.Errorf("invalid field name '%s'", name)
	}
	return nil
}

// ParseFilter parses filter parameters. Each value is either a JSON object with
// operators, e.g. {"age":{"$gt":30}}, or a simple condition of the form
// property=value or property~pattern.
func ParseFilter(values []string) (Filter, error) {
	var filter Filter
	for _, value := range values {
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "{") {
			var object map[string]interface{}
			if err := json.Unmarshal([]byte(value), &object); err != nil {
				return filter, fmt.Errorf("cannot parse filter: %w", err)
			}
			f, err := parseFilterObject(object)
			if err != nil {
				return filter, err
			}
			filter = filter.Merge(f)
			continue
		}

		// the first of '=' and '~' separates the property, the value may contain both
		i := strings.IndexAny(value, "=~")
		if i < 0 {
			return filter, fmt.Errorf("cannot parse filter, must be of type property=value or property~value")
		}
		operator := OpEq
		if value[i] == '~' {
			operator = OpLike
		}
		field := value[:i]
		if err := ValidField(field); err != nil {
			return filter, err
		}
		filter.Conditions = append(filter.Conditions, Condition{
			Field:    field,
			Operator: operator,
			Value:    value[i+1:],
			Text:     true,
		})
	}
	return filter, nil
}

func parseFilterObject(object map[string]interface{}) (Filter, error) {
	var filter Filter
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := object[key]
		switch key {
		case "$and", "$or":
			array, ok := value.([]interface{})
			if !ok || len(array) == 0 {
				return filter, fmt.Errorf("%s requires a non-empty array", key)
			}
			for _, element := range array {
				sub, ok := element.(map[string]interface{})
				if !ok {
					return filter, fmt.Errorf("%s requires an array of objects", key)
				}
				f, err := parseFilterObject(sub)
				if err != nil {
					return filter, err
				}
				if key == "$and" {
					filter.And = append(filter.And, f)
				} else {
					filter.Or = append(filter.Or, f)
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return filter, fmt.Errorf("unknown logical operator '%s'", key)
		}
		if err := ValidField(key); err != nil {
			return filter, err
		}

		operators, ok := value.(map[string]interface{})
		if !ok || !isOperatorObject(operators) {
			filter.Conditions = append(filter.Conditions, Condition{Field: key, Operator: OpEq, Value: value})
			continue
		}
		names := make([]string, 0, len(operators))
		for name := range operators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := Condition{Field: key, Operator: Operator(name), Value: operators[name]}
			if err := c.check(); err != nil {
				return filter, err
			}
			filter.Conditions = append(filter.Conditions, c)
		}
	}
	return filter, nil
}

func isOperatorObject(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func (c Condition) check() error {
	if !c.Operator.valid() {
		return fmt.Errorf("unknown operator '%s' for %s", c.Operator, c.Field)
	}
	switch c.Operator {
	case OpIn, OpNin:
		if _, ok := c.Value.([]interface{}); !ok {
			return fmt.Errorf("%s for %s requires an array", c.Operator, c.Field)
		}
	case OpExists:
		if _, ok := c.Value.(bool); !ok {
			return fmt.Errorf("%s for %s requires a boolean", c.Operator, c.Field)
		}
	case OpLike:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("%s for %s requires a string", c.Operator, c.Field)
		}
	}
	return nil
}
