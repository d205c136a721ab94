package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	jsonRead := `{"operations":["create","read","update","list","count","first"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, object.Operations, 6)
	assert.Equal(t, OperationFirst, object.Operations[5])

	jsonRead = `{"operations":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}
}

func TestPlural(t *testing.T) {
	testCases := map[string]string{
		"user":     "users",
		"company":  "companies",
		"key":      "keys",
		"child":    "children",
		"address":  "addresses",
		"box":      "boxes",
		"match":    "matches",
		"category": "categories",
	}
	for singular, plural := range testCases {
		assert.Equal(t, plural, Plural(singular), singular)
	}
}

func TestIsWrite(t *testing.T) {
	assert.True(t, OperationCreate.IsWrite())
	assert.True(t, OperationUpdate.IsWrite())
	assert.True(t, OperationDelete.IsWrite())
	assert.False(t, OperationRead.IsWrite())
	assert.False(t, OperationCount.IsWrite())
}
