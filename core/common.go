// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents an action of a resource controller, one of Create, Read, Update, Delete, List,
// Count or First
type Operation string

// all supported controller operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationCount  Operation = "count"
	OperationFirst  Operation = "first"
)

// Operations lists all operations in the order the controller registers them
var Operations = []Operation{
	OperationCreate,
	OperationRead,
	OperationUpdate,
	OperationDelete,
	OperationList,
	OperationCount,
	OperationFirst,
}

// IsWrite returns true for operations that modify the store
func (o Operation) IsWrite() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, valid := range Operations {
		if Operation(s) == valid {
			*o = valid
			return nil
		}
	}
	return fmt.Errorf("%s is not valid Operation", s)
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") && !strings.HasSuffix(singular, "ay") &&
		!strings.HasSuffix(singular, "ey") && !strings.HasSuffix(singular, "oy") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	if strings.HasSuffix(singular, "s") || strings.HasSuffix(singular, "x") || strings.HasSuffix(singular, "ch") {
		return singular + "es"
	}
	return singular + "s"
}
