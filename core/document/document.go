// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package document provides helpers for free-form JSON documents
package document

import (
	"strings"
	"time"
)

// Document is a free-form JSON object
type Document map[string]interface{}

// System fields. Inside queries the primary key of any resource is addressed as FieldID.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldRevision  = "revision"
)

// IsSystemField returns true if field is one of the fields maintained by the store
func IsSystemField(field string) bool {
	switch field {
	case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldRevision:
		return true
	}
	return false
}

// PrimaryKey returns the name of the primary key property of a resource, e.g. "user_id"
func PrimaryKey(resource string) string {
	return resource + "_id"
}

// Lookup returns the value at the dotted path
func Lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set sets the value at the dotted path, creating intermediate objects as needed
func Set(doc map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	m := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = map[string]interface{}{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Remove deletes the value at the dotted path
func Remove(doc map[string]interface{}, path string) {
	parts := strings.Split(path, ".")
	m := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// Clone returns a deep copy of the document
func Clone(doc map[string]interface{}) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return cloneValue(map[string]interface{}(t))
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	case []interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []map[string]interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	}
	return v
}

// Merge applies a JSON merge patch to dst. Objects merge recursively, null
// values delete, everything else replaces.
func Merge(dst, patch map[string]interface{}) {
	for key, value := range patch {
		if value == nil {
			delete(dst, key)
			continue
		}
		if patchObject, ok := asMap(value); ok {
			if dstObject, ok := asMap(dst[key]); ok {
				Merge(dstObject, patchObject)
				continue
			}
			obj := map[string]interface{}{}
			Merge(obj, patchObject)
			dst[key] = obj
			continue
		}
		dst[key] = cloneValue(value)
	}
}

// Strip removes all system fields and the given primary key from the document. This is
// what remains as free-form data of a stored record.
func Strip(doc map[string]interface{}, primaryKey string) Document {
	data := Document{}
	for key, value := range doc {
		if key == primaryKey || IsSystemField(key) {
			continue
		}
		data[key] = value
	}
	return data
}

// TimeOf converts a document value into a time, accepting time.Time and RFC3339 strings
func TimeOf(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
