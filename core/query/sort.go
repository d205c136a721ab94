// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"sort"
	"strings"

	"github.com/relabs-tech/docrest/core/document"
)

// SortField is one sort key
type SortField struct {
	Field      string
	Descending bool
}

// ParseSort parses a sort specification like "-created_at,name". A leading "-"
// means descending.
func ParseSort(s string) ([]SortField, error) {
	var fields []SortField
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		f := SortField{Field: part}
		if strings.HasPrefix(part, "-") {
			f = SortField{Field: part[1:], Descending: true}
		} else if strings.HasPrefix(part, "+") {
			f.Field = part[1:]
		}
		if err := ValidField(f.Field); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// String renders the sort fields in the format accepted by ParseSort
func String(fields []SortField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if f.Descending {
			parts[i] = "-" + f.Field
		} else {
			parts[i] = f.Field
		}
	}
	return strings.Join(parts, ",")
}

// SortDocuments sorts documents in place. Missing values sort first in ascending order,
// incomparable values keep their relative order.
func SortDocuments(docs []document.Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, okA := document.Lookup(docs[i], f.Field)
			b, okB := document.Lookup(docs[j], f.Field)
			var result int
			switch {
			case !okA && !okB:
				continue
			case !okA:
				result = -1
			case !okB:
				result = 1
			default:
				var ok bool
				result, ok = Compare(a, b)
				if !ok {
					continue
				}
			}
			if result == 0 {
				continue
			}
			if f.Descending {
				return result > 0
			}
			return result < 0
		}
		return false
	})
}
