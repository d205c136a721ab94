// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/query"
)

var columns = map[string]string{
	document.FieldID:        "id",
	document.FieldCreatedAt: "created_at",
	document.FieldUpdatedAt: "updated_at",
	document.FieldRevision:  "revision",
}

// builder collects positional query parameters
type builder struct {
	params []interface{}
}

func (b *builder) param(v interface{}) string {
	b.params = append(b.params, v)
	return "$" + strconv.Itoa(len(b.params))
}

func (b *builder) path(field string) string {
	return b.param(pq.Array(strings.Split(field, "."))) + "::text[]"
}

func (b *builder) jsonb(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot marshal filter value: %w", err)
	}
	return b.param(string(data)) + "::jsonb", nil
}

// where compiles a filter to a SQL condition. An empty filter compiles to "".
func (b *builder) where(f query.Filter) (string, error) {
	var parts []string
	for _, c := range f.Conditions {
		s, err := b.condition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	for _, sub := range f.And {
		s, err := b.where(sub)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(f.Or) > 0 {
		var alternatives []string
		for _, sub := range f.Or {
			s, err := b.where(sub)
			if err != nil {
				return "", err
			}
			if s == "" {
				s = "TRUE"
			}
			alternatives = append(alternatives, s)
		}
		parts = append(parts, "("+strings.Join(alternatives, " OR ")+")")
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *builder) condition(c query.Condition) (string, error) {
	if column, ok := columns[c.Field]; ok {
		return b.systemCondition(column, c), nil
	}
	if c.IsText() {
		return b.textCondition(c)
	}

	value := "data #> " + b.path(c.Field)
	switch c.Operator {
	case query.OpExists:
		if want, _ := c.Value.(bool); want {
			return value + " IS NOT NULL", nil
		}
		return value + " IS NULL", nil
	case query.OpIn, query.OpNin:
		array, err := b.jsonb(c.Value)
		if err != nil {
			return "", err
		}
		contained := array + " @> jsonb_build_array(" + value + ")"
		if c.Operator == query.OpNin {
			return "NOT COALESCE(" + contained + ", FALSE)", nil
		}
		return contained, nil
	}

	operand, err := b.jsonb(c.Value)
	if err != nil {
		return "", err
	}
	switch c.Operator {
	case query.OpEq:
		return value + " = " + operand, nil
	case query.OpNe:
		return value + " IS DISTINCT FROM " + operand, nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return "(jsonb_typeof(" + value + ") = jsonb_typeof(" + operand + ") AND " +
			value + " " + comparison(c.Operator) + " " + operand + ")", nil
	}
	return "", fmt.Errorf("unsupported operator %s", c.Operator)
}

func (b *builder) textCondition(c query.Condition) (string, error) {
	value := "(data #>> " + b.path(c.Field) + ")"
	text := func(v interface{}) string {
		s, _ := query.Text(v)
		return s
	}
	switch c.Operator {
	case query.OpEq:
		return value + " = " + b.param(text(c.Value)), nil
	case query.OpNe:
		return value + " IS DISTINCT FROM " + b.param(text(c.Value)), nil
	case query.OpLike:
		return value + " LIKE " + b.param(text(c.Value)), nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return value + " " + comparison(c.Operator) + " " + b.param(text(c.Value)), nil
	case query.OpExists:
		if want, _ := c.Value.(bool); want {
			return value + " IS NOT NULL", nil
		}
		return value + " IS NULL", nil
	case query.OpIn, query.OpNin:
		array, _ := c.Value.([]interface{})
		texts := make([]string, len(array))
		for i, e := range array {
			texts[i] = text(e)
		}
		in := value + " = ANY(" + b.param(pq.Array(texts)) + ")"
		if c.Operator == query.OpNin {
			return "NOT COALESCE(" + in + ", FALSE)", nil
		}
		return in, nil
	}
	return "", fmt.Errorf("unsupported operator %s", c.Operator)
}

// systemCondition compiles conditions on the record columns. Values which cannot
// be converted to the column type never match.
func (b *builder) systemCondition(column string, c query.Condition) string {
	convert := func(v interface{}) (interface{}, bool) {
		switch column {
		case "id":
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			id, err := uuid.Parse(s)
			return id.String(), err == nil
		case "revision":
			switch n := v.(type) {
			case float64:
				return int(n), n == float64(int(n))
			case int:
				return n, true
			case string:
				i, err := strconv.Atoi(n)
				return i, err == nil
			}
			return nil, false
		}
		t, ok := document.TimeOf(v)
		return t, ok
	}

	switch c.Operator {
	case query.OpExists:
		if want, _ := c.Value.(bool); want {
			return "TRUE"
		}
		return "FALSE"
	case query.OpLike:
		s, _ := c.Value.(string)
		return column + "::text LIKE " + b.param(s)
	case query.OpIn, query.OpNin:
		array, _ := c.Value.([]interface{})
		var placeholders []string
		for _, e := range array {
			if v, ok := convert(e); ok {
				placeholders = append(placeholders, b.param(v))
			}
		}
		if len(placeholders) == 0 {
			if c.Operator == query.OpIn {
				return "FALSE"
			}
			return "TRUE"
		}
		in := column + " IN (" + strings.Join(placeholders, ", ") + ")"
		if c.Operator == query.OpNin {
			return "NOT " + in
		}
		return in
	}

	v, ok := convert(c.Value)
	if !ok {
		if c.Operator == query.OpNe {
			return "TRUE"
		}
		return "FALSE"
	}
	switch c.Operator {
	case query.OpEq:
		return column + " = " + b.param(v)
	case query.OpNe:
		return column + " <> " + b.param(v)
	}
	return column + " " + comparison(c.Operator) + " " + b.param(v)
}

func comparison(o query.Operator) string {
	switch o {
	case query.OpGt:
		return ">"
	case query.OpGte:
		return ">="
	case query.OpLt:
		return "<"
	}
	return "<="
}

// orderBy compiles sort fields. Missing values sort first in ascending order,
// the primary key breaks ties.
func (b *builder) orderBy(fields []query.SortField) string {
	var parts []string
	hasID := false
	for _, f := range fields {
		expression, ok := columns[f.Field]
		if !ok {
			expression = "data #> " + b.path(f.Field)
		}
		if expression == "id" {
			hasID = true
		}
		if f.Descending {
			parts = append(parts, expression+" DESC NULLS LAST")
		} else {
			parts = append(parts, expression+" ASC NULLS FIRST")
		}
	}
	if !hasID {
		parts = append(parts, "id")
	}
	return strings.Join(parts, ", ")
}
