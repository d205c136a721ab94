// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package store defines the document store the resource controllers persist to.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/query"
)

// Store errors
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("revision conflict")
	ErrDuplicate = errors.New("duplicate key")
)

// Record is a stored document. Data holds the free-form properties, the
// remaining fields are maintained by the store.
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Revision  int
	Data      document.Document
}

// Document renders the record with its system fields. The primary key is
// named primaryKey, free-form properties never shadow system fields.
func (r Record) Document(primaryKey string) document.Document {
	doc := document.Clone(r.Data)
	if doc == nil {
		doc = document.Document{}
	}
	doc[primaryKey] = r.ID.String()
	doc[document.FieldCreatedAt] = r.CreatedAt.UTC()
	doc[document.FieldUpdatedAt] = r.UpdatedAt.UTC()
	doc[document.FieldRevision] = r.Revision
	return doc
}

// View renders the record the way filters and sort keys address it, with the
// primary key as "_id".
func (r Record) View() document.Document {
	return r.Document(document.FieldID)
}

// Find describes a query for documents
type Find struct {
	Filter query.Filter
	Sort   []query.SortField
	Limit  int
	Skip   int
}

// Store persists records in named collections
type Store interface {
	// Insert stores a new record. A zero ID is replaced with a random one, CreatedAt
	// and UpdatedAt are set to now unless given, Revision is set to 1.
	Insert(ctx context.Context, collection string, record Record) (Record, error)
	// FindByID returns ErrNotFound if there is no such record
	FindByID(ctx context.Context, collection string, id uuid.UUID) (Record, error)
	Find(ctx context.Context, collection string, find Find) ([]Record, error)
	Count(ctx context.Context, collection string, filter query.Filter) (int, error)
	// Update replaces Data, increments the revision and sets UpdatedAt. If record.Revision
	// is larger than zero, it must match the stored revision or ErrConflict is returned.
	Update(ctx context.Context, collection string, record Record) (Record, error)
	// Delete removes the record and returns it
	Delete(ctx context.Context, collection string, id uuid.UUID) (Record, error)
}

// Ensurer is implemented by stores which must prepare a collection before use
type Ensurer interface {
	EnsureCollection(ctx context.Context, collection string) error
}
