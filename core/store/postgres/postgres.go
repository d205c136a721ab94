// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package postgres implements the document store on Postgres. Every collection is a
// table with the record columns and a jsonb data column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/docrest/core/csql"
	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/store"
)

const selectColumns = "id, created_at, updated_at, revision, data"

var validCollection = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Store is a Postgres store.Store
type Store struct {
	db     *sql.DB
	schema string

	mutex   sync.Mutex
	ensured map[string]bool
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a store on db, tables are created in schema
func New(db *sql.DB, schema string) *Store {
	if schema == "" {
		schema = "public"
	}
	return &Store{
		db:      db,
		schema:  schema,
		ensured: make(map[string]bool),
		now:     time.Now,
	}
}

// NewWithDB creates a store on a database opened with csql
func NewWithDB(db *csql.DB) *Store {
	return New(db.DB, db.Schema)
}

func (s *Store) table(collection string) (string, error) {
	if !validCollection.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name '%s'", collection)
	}
	return fmt.Sprintf("%s.\"%s\"", s.schema, collection), nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// EnsureCollection creates the table of the collection if it does not exist yet
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ensured[collection] {
		return nil
	}
	table, err := s.table(collection)
	if err != nil {
		return err
	}
	createQuery := fmt.Sprintf(`CREATE table IF NOT EXISTS %s
(id uuid PRIMARY KEY,
created_at timestamp with time zone NOT NULL,
updated_at timestamp with time zone NOT NULL,
revision integer NOT NULL DEFAULT 1,
data jsonb NOT NULL DEFAULT '{}'::jsonb);`, table)
	createIndicesQuery := fmt.Sprintf(`CREATE index IF NOT EXISTS "%s_created_at" ON %s(created_at);
CREATE index IF NOT EXISTS "%s_data" ON %s USING gin (data jsonb_path_ops);`,
		collection, table, collection, table)

	if _, err = s.db.ExecContext(ctx, createQuery); err != nil {
		return fmt.Errorf("cannot create table %s: %w", table, err)
	}
	if _, err = s.db.ExecContext(ctx, createIndicesQuery); err != nil {
		return fmt.Errorf("cannot create indices for %s: %w", table, err)
	}
	logger.FromContext(ctx).Debugln("ensured collection", table)
	s.ensured[collection] = true
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(row scanner) (store.Record, error) {
	var (
		r    store.Record
		data []byte
	)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Revision, &data); err != nil {
		return r, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.Data = document.Document{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return r, fmt.Errorf("cannot unmarshal data: %w", err)
		}
	}
	return r, nil
}

func marshalData(data document.Document) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.MarshalWithOption(data, json.DisableHTMLEscape())
	if err != nil {
		return "", fmt.Errorf("cannot marshal data: %w", err)
	}
	return string(b), nil
}

func mapError(err error) error {
	if errors.Is(err, csql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pqErr.Message)
	}
	return err
}

// Insert implements store.Store
func (s *Store) Insert(ctx context.Context, collection string, record store.Record) (store.Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return store.Record{}, err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := s.timestamp()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	data, err := marshalData(record.Data)
	if err != nil {
		return store.Record{}, err
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s (id, created_at, updated_at, revision, data) VALUES ($1, $2, $3, 1, $4) RETURNING %s;",
		table, selectColumns)
	r, err := scan(s.db.QueryRowContext(ctx, insertQuery, record.ID, record.CreatedAt, record.UpdatedAt, data))
	if err != nil {
		return store.Record{}, mapError(err)
	}
	return r, nil
}

// FindByID implements store.Store
func (s *Store) FindByID(ctx context.Context, collection string, id uuid.UUID) (store.Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return store.Record{}, err
	}
	readQuery := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1;", selectColumns, table)
	r, err := scan(s.db.QueryRowContext(ctx, readQuery, id))
	if err != nil {
		return store.Record{}, mapError(err)
	}
	return r, nil
}

// Find implements store.Store
func (s *Store) Find(ctx context.Context, collection string, find store.Find) ([]store.Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return nil, err
	}
	b := &builder{}
	listQuery := fmt.Sprintf("SELECT %s FROM %s", selectColumns, table)
	where, err := b.where(find.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		listQuery += " WHERE " + where
	}
	listQuery += " ORDER BY " + b.orderBy(find.Sort)
	if find.Limit > 0 {
		listQuery += " LIMIT " + b.param(find.Limit)
	}
	if find.Skip > 0 {
		listQuery += " OFFSET " + b.param(find.Skip)
	}
	listQuery += ";"

	rows, err := s.db.QueryContext(ctx, listQuery, b.params...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	records := []store.Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count implements store.Store
func (s *Store) Count(ctx context.Context, collection string, filter query.Filter) (int, error) {
	table, err := s.table(collection)
	if err != nil {
		return 0, err
	}
	b := &builder{}
	countQuery := "SELECT count(*) FROM " + table
	where, err := b.where(filter)
	if err != nil {
		return 0, err
	}
	if where != "" {
		countQuery += " WHERE " + where
	}
	countQuery += ";"
	var count int
	if err = s.db.QueryRowContext(ctx, countQuery, b.params...).Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, collection string, record store.Record) (store.Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return store.Record{}, err
	}
	data, err := marshalData(record.Data)
	if err != nil {
		return store.Record{}, err
	}
	params := []interface{}{data, s.timestamp(), record.ID}
	updateQuery := fmt.Sprintf("UPDATE %s SET data = $1, updated_at = $2, revision = revision + 1 WHERE id = $3", table)
	if record.Revision > 0 {
		params = append(params, record.Revision)
		updateQuery += " AND revision = $" + strconv.Itoa(len(params))
	}
	updateQuery += " RETURNING " + selectColumns + ";"

	r, err := scan(s.db.QueryRowContext(ctx, updateQuery, params...))
	if errors.Is(err, csql.ErrNoRows) && record.Revision > 0 {
		// distinguish a stale revision from a missing record
		var revision int
		existsQuery := fmt.Sprintf("SELECT revision FROM %s WHERE id = $1;", table)
		if err = s.db.QueryRowContext(ctx, existsQuery, record.ID).Scan(&revision); err == nil {
			return store.Record{}, store.ErrConflict
		}
	}
	if err != nil {
		return store.Record{}, mapError(err)
	}
	return r, nil
}

// Delete implements store.Store
func (s *Store) Delete(ctx context.Context, collection string, id uuid.UUID) (store.Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return store.Record{}, err
	}
	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE id = $1 RETURNING %s;", table, selectColumns)
	r, err := scan(s.db.QueryRowContext(ctx, deleteQuery, id))
	if err != nil {
		return store.Record{}, mapError(err)
	}
	return r, nil
}
