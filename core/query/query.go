// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package query implements the query-string conventions of the resource controllers.

	?filter=name=john                      text equality
	?filter=name~jo%                       LIKE pattern
	?filter={"age":{"$gt":30}}             JSON filter with operators
	?projection=name,email                 inclusion ("select" and "fields" are aliases)
	?projection=-password                  exclusion
	?sort=-created_at,name                 sort order, "-" for descending
	?limit=n&skip=n or ?limit=n&page=n     pagination
	?options={"sort":"-age","limit":10}    options as JSON
	?populate=author,comments.author       population of references

Filters support the operators $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin, $exists and
$like, combined with $and and $or.
*/
package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Query parameter names
const (
	ParamFilter     = "filter"
	ParamProjection = "projection"
	ParamSelect     = "select"
	ParamFields     = "fields"
	ParamSort       = "sort"
	ParamLimit      = "limit"
	ParamSkip       = "skip"
	ParamPage       = "page"
	ParamOptions    = "options"
	ParamPopulate   = "populate"
)

// Query is a parsed request query
type Query struct {
	Filter     Filter
	Projection Projection
	Sort       []SortField
	Limit      int
	Skip       int
	Populate   []Populate
}

// Page returns the current page number, starting with 1
func (q Query) Page() int {
	if q.Limit <= 0 {
		return 1
	}
	return q.Skip/q.Limit + 1
}

// Config holds the pagination defaults
type Config struct {
	DefaultLimit int
	MaxLimit     int
	DefaultSort  []SortField
	// PrimaryKey is the primary key property of the resource, it cannot be projected away
	PrimaryKey string
}

// DefaultConfig is a page limit of 100 and newest documents first
var DefaultConfig = Config{
	DefaultLimit: 100,
	MaxLimit:     100,
	DefaultSort:  []SortField{{Field: "created_at", Descending: true}},
}

// Error is a query parameter error
type Error struct {
	Parameter string
	Err       error
}

func (e *Error) Error() string {
	return "parameter '" + e.Parameter + "': " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnknownParameter is returned for parameters which are not accepted
var ErrUnknownParameter = errors.New("unknown")

type options struct {
	Sort  *string `json:"sort"`
	Limit *int    `json:"limit"`
	Skip  *int    `json:"skip"`
	Page  *int    `json:"page"`
}

// Parse parses the URL query values. Only the accepted parameters are allowed, every
// other parameter is an ErrUnknownParameter. Filter and populate may be repeated,
// everything else must be unique.
func Parse(values map[string][]string, config Config, accepted ...string) (Query, error) {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultConfig.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = DefaultConfig.MaxLimit
	}
	q := Query{Limit: config.DefaultLimit, Sort: config.DefaultSort}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		limit, skip, page *int
		sortSpec          *string
		opts              *options
		projectionSeen    string
	)

	for _, key := range keys {
		array := values[key]
		if !contains(accepted, key) {
			return q, &Error{key, ErrUnknownParameter}
		}
		if key != ParamFilter && key != ParamPopulate && len(array) > 1 {
			return q, &Error{key, fmt.Errorf("illegal parameter array")}
		}
		value := array[0]
		var err error
		switch key {
		case ParamFilter:
			q.Filter, err = ParseFilter(array)
		case ParamProjection, ParamSelect, ParamFields:
			if projectionSeen != "" {
				err = fmt.Errorf("conflicts with '%s'", projectionSeen)
				break
			}
			projectionSeen = key
			q.Projection, err = ParseProjection(value, keepFields(config)...)
		case ParamSort:
			sortSpec = &value
		case ParamLimit, ParamSkip, ParamPage:
			var n int
			n, err = strconv.Atoi(value)
			if err != nil {
				break
			}
			switch key {
			case ParamLimit:
				limit = &n
			case ParamSkip:
				skip = &n
			default:
				page = &n
			}
		case ParamOptions:
			opts = &options{}
			err = json.Unmarshal([]byte(value), opts)
		case ParamPopulate:
			q.Populate, err = ParsePopulate(array)
		}
		if err != nil {
			return q, &Error{key, err}
		}
	}

	// individual parameters win over options, skip or page replace both
	// pagination options
	if opts != nil {
		if sortSpec == nil {
			sortSpec = opts.Sort
		}
		if limit == nil {
			limit = opts.Limit
		}
		if skip == nil && page == nil {
			skip, page = opts.Skip, opts.Page
		}
	}

	if sortSpec != nil {
		fields, err := ParseSort(*sortSpec)
		if err != nil {
			return q, &Error{ParamSort, err}
		}
		if len(fields) > 0 {
			q.Sort = fields
		}
	}
	if limit != nil {
		if *limit < 1 || *limit > config.MaxLimit {
			return q, &Error{ParamLimit, fmt.Errorf("out of range")}
		}
		q.Limit = *limit
	}
	if skip != nil && page != nil {
		return q, &Error{ParamPage, fmt.Errorf("cannot be combined with skip")}
	}
	if skip != nil {
		if *skip < 0 {
			return q, &Error{ParamSkip, fmt.Errorf("out of range")}
		}
		q.Skip = *skip
	}
	if page != nil {
		if *page < 1 {
			return q, &Error{ParamPage, fmt.Errorf("out of range")}
		}
		q.Skip = (*page - 1) * q.Limit
	}
	return q, nil
}
