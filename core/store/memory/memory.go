// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package memory implements an in-memory store. It evaluates filters in Go and is
// meant for tests and small embedded services.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/store"
)

type entry struct {
	record store.Record
	seq    int64
}

// Store is an in-memory store.Store
type Store struct {
	mutex       sync.RWMutex
	collections map[string]map[uuid.UUID]*entry
	seq         int64
	last        time.Time
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		collections: make(map[string]map[uuid.UUID]*entry),
		now:         time.Now,
	}
}

// timestamp returns a strictly increasing time with the precision of Postgres. Must
// be called with the write lock held.
func (s *Store) timestamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func clone(r store.Record) store.Record {
	r.Data = document.Clone(r.Data)
	if r.Data == nil {
		r.Data = document.Document{}
	}
	return r
}

// Insert implements store.Store
func (s *Store) Insert(ctx context.Context, collection string, record store.Record) (store.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[uuid.UUID]*entry)
		s.collections[collection] = c
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, exists := c[record.ID]; exists {
		return store.Record{}, store.ErrDuplicate
	}
	now := s.timestamp()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.Revision = 1
	record = clone(record)
	s.seq++
	c[record.ID] = &entry{record: record, seq: s.seq}
	return clone(record), nil
}

// FindByID implements store.Store
func (s *Store) FindByID(ctx context.Context, collection string, id uuid.UUID) (store.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	e, ok := s.collections[collection][id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return clone(e.record), nil
}

// matching returns the entries matching the filter in insertion order
func (s *Store) matching(collection string, filter query.Filter) ([]*entry, []document.Document) {
	var (
		entries []*entry
		views   []document.Document
	)
	for _, e := range s.collections[collection] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	var matched []*entry
	for _, e := range entries {
		view := e.record.View()
		if !filter.Match(view) {
			continue
		}
		matched = append(matched, e)
		views = append(views, view)
	}
	return matched, views
}

// Find implements store.Store
func (s *Store) Find(ctx context.Context, collection string, find store.Find) ([]store.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries, views := s.matching(collection, find.Filter)
	byID := make(map[string]*entry, len(entries))
	for i, e := range entries {
		byID[views[i][document.FieldID].(string)] = e
	}
	query.SortDocuments(views, find.Sort)

	if find.Skip >= len(views) {
		return []store.Record{}, nil
	}
	views = views[find.Skip:]
	if find.Limit > 0 && find.Limit < len(views) {
		views = views[:find.Limit]
	}
	records := make([]store.Record, len(views))
	for i, view := range views {
		records[i] = clone(byID[view[document.FieldID].(string)].record)
	}
	return records, nil
}

// Count implements store.Store
func (s *Store) Count(ctx context.Context, collection string, filter query.Filter) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entries, _ := s.matching(collection, filter)
	return len(entries), nil
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, collection string, record store.Record) (store.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.collections[collection][record.ID]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	if record.Revision > 0 && record.Revision != e.record.Revision {
		return store.Record{}, store.ErrConflict
	}
	updated := e.record
	updated.Data = record.Data
	updated.Revision++
	updated.UpdatedAt = s.timestamp()
	e.record = clone(updated)
	return clone(e.record), nil
}

// Delete implements store.Store
func (s *Store) Delete(ctx context.Context, collection string, id uuid.UUID) (store.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.collections[collection][id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	delete(s.collections[collection], id)
	return e.record, nil
}
