// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/docrest/core/document"
)

// Match evaluates the filter against a document.
func (f Filter) Match(doc map[string]interface{}) bool {
	for _, c := range f.Conditions {
		if !c.Match(doc) {
			return false
		}
	}
	for _, sub := range f.And {
		if !sub.Match(doc) {
			return false
		}
	}
	if len(f.Or) == 0 {
		return true
	}
	for _, sub := range f.Or {
		if sub.Match(doc) {
			return true
		}
	}
	return false
}

// Match evaluates the condition against a document
func (c Condition) Match(doc map[string]interface{}) bool {
	value, found := document.Lookup(doc, c.Field)
	switch c.Operator {
	case OpExists:
		want, _ := c.Value.(bool)
		return found == want
	case OpNe:
		return !found || !c.equal(value, c.Value)
	case OpNin:
		array, _ := c.Value.([]interface{})
		if !found {
			return true
		}
		for _, element := range array {
			if c.equal(value, element) {
				return false
			}
		}
		return true
	}

	if !found {
		return false
	}

	switch c.Operator {
	case OpEq:
		return c.equal(value, c.Value)
	case OpIn:
		array, _ := c.Value.([]interface{})
		for _, element := range array {
			if c.equal(value, element) {
				return true
			}
		}
		return false
	case OpLike:
		pattern, _ := c.Value.(string)
		s, ok := Text(value)
		return ok && likeToRegexp(pattern).MatchString(s)
	case OpGt, OpGte, OpLt, OpLte:
		var (
			result int
			ok     bool
		)
		if c.IsText() {
			s, isText := Text(value)
			want, _ := Text(c.Value)
			result, ok = strings.Compare(s, want), isText
		} else {
			result, ok = Compare(value, c.Value)
		}
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return result > 0
		case OpGte:
			return result >= 0
		case OpLt:
			return result < 0
		default:
			return result <= 0
		}
	}
	return false
}

func (c Condition) equal(value, want interface{}) bool {
	if c.IsText() {
		s, ok := Text(value)
		w, _ := Text(want)
		return ok && s == w
	}
	result, ok := Compare(value, want)
	return ok && result == 0
}

// Text returns the textual representation of a scalar JSON value, the way
// Postgres renders it with the ->> operator.
func Text(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Compare compares two JSON values. It returns false if the values are not comparable.
// Numbers compare numerically, times chronologically, strings lexically and false
// sorts before true. A string compared with a number or a time is converted first.
func Compare(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}

	_, aIsTime := a.(time.Time)
	_, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		ta, okA := document.TimeOf(a)
		tb, okB := document.TimeOf(b)
		if !okA || !okB {
			return 0, false
		}
		return ta.Compare(tb), true
	}

	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA || okB {
		if !okA {
			fa, okA = parseFloat(a)
		}
		if !okB {
			fb, okB = parseFloat(b)
		}
		if !okA || !okB {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}

	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}

	if reflect.DeepEqual(a, b) {
		return 0, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func parseFloat(v interface{}) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// likeToRegexp translates a SQL LIKE pattern to an anchored regular expression
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile("(?s)" + b.String())
}
