// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package population resolves reference fields into the referenced documents.

A model declares which of its fields refer to other resources. For a post

	{"post_id": "...", "title": "hello", "author": "<user_id>", "tags": ["<tag_id>", "<tag_id>"]}

with references author -> user and tags -> tag (many), the populate specification
"author,tags" replaces the identifiers with the user document and the list of tag
documents. Nested specifications like "comments.author" populate the references of
the referenced documents. Each path is fetched with a single query per level.
*/
package population

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/store"
)

// DefaultMaxDepth is the maximum nesting of populate specifications
const DefaultMaxDepth = 3

// Population errors
var (
	ErrUnknownPath = errors.New("unknown populate path")
	ErrTooDeep     = errors.New("populate nesting too deep")
)

// Reference declares that Field holds the primary key of a Resource document, or a
// list of primary keys if Many is set
type Reference struct {
	Field    string `json:"field"`
	Resource string `json:"resource"`
	Many     bool   `json:"many"`
}

// Model is a resource with its collection and references
type Model struct {
	Resource   string
	Collection string
	References []Reference
}

func (m Model) reference(field string) (Reference, bool) {
	for _, r := range m.References {
		if r.Field == field {
			return r, true
		}
	}
	return Reference{}, false
}

// Registry knows all models by resource name
type Registry struct {
	models map[string]Model
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds or replaces a model
func (r *Registry) Register(m Model) {
	r.models[m.Resource] = m
}

// Model returns the model of resource
func (r *Registry) Model(resource string) (Model, bool) {
	m, ok := r.models[resource]
	return m, ok
}

// Validate checks that every reference points to a registered resource
func (r *Registry) Validate() error {
	for _, m := range r.models {
		for _, ref := range m.References {
			if _, ok := r.models[ref.Resource]; !ok {
				return fmt.Errorf("reference %s.%s to unknown resource %s", m.Resource, ref.Field, ref.Resource)
			}
		}
	}
	return nil
}

// Resolver populates documents from a store
type Resolver struct {
	Store    store.Store
	Registry *Registry
	// MaxDepth limits the nesting of populate specifications, DefaultMaxDepth if zero
	MaxDepth int
}

// Check validates the specifications for documents of resource without touching the store
func (r *Resolver) Check(resource string, specs []query.Populate) error {
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if query.Depth(specs) > maxDepth {
		return fmt.Errorf("%w: maximum is %d", ErrTooDeep, maxDepth)
	}
	return r.check(resource, specs, "")
}

func (r *Resolver) check(resource string, specs []query.Populate, prefix string) error {
	model, ok := r.Registry.Model(resource)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, prefix+resource)
	}
	for _, spec := range specs {
		ref, ok := model.reference(spec.Path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPath, prefix+spec.Path)
		}
		if err := r.check(ref.Resource, spec.Populate, prefix+spec.Path+"."); err != nil {
			return err
		}
	}
	return nil
}

// Populate replaces the reference fields named by specs in docs, which are documents of
// resource. A missing single reference becomes null, missing entries of a list are dropped.
func (r *Resolver) Populate(ctx context.Context, resource string, docs []document.Document, specs []query.Populate) error {
	if len(specs) == 0 || len(docs) == 0 {
		return nil
	}
	if err := r.Check(resource, specs); err != nil {
		return err
	}
	return r.populate(ctx, resource, docs, specs, map[string]document.Document{})
}

func (r *Resolver) populate(ctx context.Context, resource string, docs []document.Document, specs []query.Populate, cache map[string]document.Document) error {
	model, _ := r.Registry.Model(resource)
	for _, spec := range specs {
		ref, _ := model.reference(spec.Path)
		target, _ := r.Registry.Model(ref.Resource)
		primaryKey := document.PrimaryKey(target.Resource)

		if err := r.fetch(ctx, target, referencedIDs(docs, ref), cache); err != nil {
			return err
		}

		var populated []document.Document
		resolve := func(id interface{}) (document.Document, bool) {
			s, ok := id.(string)
			if !ok {
				return nil, false
			}
			doc, ok := cache[target.Resource+"/"+s]
			if !ok {
				return nil, false
			}
			c := document.Clone(doc)
			populated = append(populated, c)
			return c, true
		}

		for _, doc := range docs {
			value, found := doc[spec.Path]
			if !found {
				continue
			}
			if !ref.Many {
				if c, ok := resolve(value); ok {
					doc[spec.Path] = c
				} else if _, isID := value.(string); isID {
					doc[spec.Path] = nil
				}
				continue
			}
			array, ok := value.([]interface{})
			if !ok {
				continue
			}
			list := []interface{}{}
			for _, id := range array {
				if c, ok := resolve(id); ok {
					list = append(list, c)
				}
			}
			doc[spec.Path] = list
		}

		if err := r.populate(ctx, target.Resource, populated, spec.Populate, cache); err != nil {
			return err
		}
		if !spec.Select.IsEmpty() {
			keep := []string{primaryKey}
			for _, nested := range spec.Populate {
				keep = append(keep, nested.Path)
			}
			for _, c := range populated {
				projected := spec.Select.Apply(c, keep...)
				for key := range c {
					if _, ok := projected[key]; !ok {
						delete(c, key)
					}
				}
				for key, value := range projected {
					c[key] = value
				}
			}
		}
	}
	return nil
}

// referencedIDs returns the distinct identifiers held by the reference field of docs
func referencedIDs(docs []document.Document, ref Reference) []string {
	var ids []string
	seen := map[string]bool{}
	add := func(v interface{}) {
		if s, ok := v.(string); ok && !seen[s] {
			seen[s] = true
			ids = append(ids, s)
		}
	}
	for _, doc := range docs {
		value := doc[ref.Field]
		if !ref.Many {
			add(value)
			continue
		}
		if array, ok := value.([]interface{}); ok {
			for _, v := range array {
				add(v)
			}
		}
	}
	return ids
}

// fetch loads the documents which are not cached yet with a single query
func (r *Resolver) fetch(ctx context.Context, target Model, ids []string, cache map[string]document.Document) error {
	var missing []string
	for _, id := range ids {
		if _, ok := cache[target.Resource+"/"+id]; ok {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}
	records, err := r.Store.Find(ctx, target.Collection, store.Find{Filter: query.ByIDs(missing)})
	if err != nil {
		return fmt.Errorf("cannot populate %s: %w", target.Resource, err)
	}
	primaryKey := document.PrimaryKey(target.Resource)
	for _, record := range records {
		cache[target.Resource+"/"+record.ID.String()] = record.Document(primaryKey)
	}
	return nil
}
