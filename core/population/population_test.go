package population

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/store"
	"github.com/relabs-tech/docrest/core/store/memory"
)

// countingStore counts the Find calls of the populate queries
type countingStore struct {
	store.Store
	finds int
}

func (s *countingStore) Find(ctx context.Context, collection string, find store.Find) ([]store.Record, error) {
	s.finds++
	return s.Store.Find(ctx, collection, find)
}

type fixture struct {
	resolver *Resolver
	store    *countingStore
	users    map[string]string
	tags     map[string]string
	posts    []document.Document
}

func insert(t *testing.T, s store.Store, collection string, data document.Document) string {
	r, err := s.Insert(context.Background(), collection, store.Record{Data: data})
	require.NoError(t, err)
	return r.ID.String()
}

func newFixture(t *testing.T) *fixture {
	s := &countingStore{Store: memory.New()}
	registry := NewRegistry()
	registry.Register(Model{Resource: "user", Collection: "users", References: []Reference{
		{Field: "avatar", Resource: "image"},
	}})
	registry.Register(Model{Resource: "image", Collection: "images"})
	registry.Register(Model{Resource: "tag", Collection: "tags"})
	registry.Register(Model{Resource: "post", Collection: "posts", References: []Reference{
		{Field: "author", Resource: "user"},
		{Field: "tags", Resource: "tag", Many: true},
		{Field: "related", Resource: "post", Many: true},
	}})
	require.NoError(t, registry.Validate())

	f := &fixture{
		resolver: &Resolver{Store: s, Registry: registry},
		store:    s,
		users:    map[string]string{},
		tags:     map[string]string{},
	}
	image := insert(t, s, "images", document.Document{"url": "http://img/1.png"})
	f.users["joe"] = insert(t, s, "users", document.Document{"name": "joe", "email": "joe@example.com", "avatar": image})
	f.users["ann"] = insert(t, s, "users", document.Document{"name": "ann", "email": "ann@example.com"})
	f.tags["go"] = insert(t, s, "tags", document.Document{"label": "go"})
	f.tags["db"] = insert(t, s, "tags", document.Document{"label": "db"})

	f.posts = []document.Document{
		{"post_id": uuid.NewString(), "title": "one", "author": f.users["joe"], "tags": []interface{}{f.tags["db"], f.tags["go"]}},
		{"post_id": uuid.NewString(), "title": "two", "author": f.users["ann"], "tags": []interface{}{f.tags["go"], uuid.NewString()}},
		{"post_id": uuid.NewString(), "title": "three", "author": f.users["joe"]},
		{"post_id": uuid.NewString(), "title": "four", "author": uuid.NewString()},
	}
	s.finds = 0
	return f
}

func specs(t *testing.T, values ...string) []query.Populate {
	p, err := query.ParsePopulate(values)
	require.NoError(t, err)
	return p
}

func TestPopulateSingleAndMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.resolver.Populate(ctx, "post", f.posts, specs(t, "author,tags"))
	require.NoError(t, err)
	// one query per path
	assert.Equal(t, 2, f.store.finds)

	author := f.posts[0]["author"].(document.Document)
	assert.Equal(t, "joe", author["name"])
	assert.Equal(t, f.users["joe"], author["user_id"])

	tags := f.posts[0]["tags"].([]interface{})
	require.Len(t, tags, 2)
	assert.Equal(t, "db", tags[0].(document.Document)["label"])
	assert.Equal(t, "go", tags[1].(document.Document)["label"])

	// missing list entries are dropped
	assert.Len(t, f.posts[1]["tags"].([]interface{}), 1)
	// a missing list field stays missing
	_, found := f.posts[2]["tags"]
	assert.False(t, found)
	// a dangling single reference becomes null
	value, found := f.posts[3]["author"]
	assert.True(t, found)
	assert.Nil(t, value)

	// populated documents are independent copies
	author["name"] = "changed"
	assert.Equal(t, "joe", f.posts[2]["author"].(document.Document)["name"])
}

func TestPopulateSelectAndNested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.resolver.Populate(ctx, "post", f.posts[:1],
		specs(t, `{"path":"author","select":"name","populate":"avatar"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.finds)

	author := f.posts[0]["author"].(document.Document)
	assert.Equal(t, "joe", author["name"])
	assert.Equal(t, f.users["joe"], author["user_id"])
	_, found := author["email"]
	assert.False(t, found)
	assert.Equal(t, "http://img/1.png", author["avatar"].(document.Document)["url"])

	f = newFixture(t)
	err = f.resolver.Populate(ctx, "post", f.posts[:2], specs(t, `{"path":"author","select":"-email"}`))
	require.NoError(t, err)
	author = f.posts[1]["author"].(document.Document)
	assert.Equal(t, "ann", author["name"])
	_, found = author["email"]
	assert.False(t, found)
}

func TestPopulateCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := insert(t, f.store, "posts", document.Document{"title": "p1", "author": f.users["joe"]})
	f.posts[0]["related"] = []interface{}{p1}
	f.store.finds = 0

	err := f.resolver.Populate(ctx, "post", f.posts[:1], specs(t, "author", "related.author"))
	require.NoError(t, err)
	// author of the related post is the cached joe, no third query
	assert.Equal(t, 2, f.store.finds)
	related := f.posts[0]["related"].([]interface{})[0].(document.Document)
	assert.Equal(t, "joe", related["author"].(document.Document)["name"])
}

func TestPopulateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.resolver.Populate(ctx, "post", f.posts, specs(t, "editor"))
	assert.True(t, errors.Is(err, ErrUnknownPath))
	assert.Contains(t, err.Error(), "editor")

	err = f.resolver.Populate(ctx, "post", f.posts, specs(t, "author.manager"))
	assert.True(t, errors.Is(err, ErrUnknownPath))
	assert.Contains(t, err.Error(), "author.manager")

	err = f.resolver.Populate(ctx, "post", f.posts, specs(t, "related.related.related.author"))
	assert.True(t, errors.Is(err, ErrTooDeep))

	f.resolver.MaxDepth = 4
	err = f.resolver.Populate(ctx, "post", f.posts, specs(t, "related.related.related.author"))
	assert.NoError(t, err)

	assert.NoError(t, f.resolver.Populate(ctx, "post", nil, specs(t, "editor")))

	registry := NewRegistry()
	registry.Register(Model{Resource: "post", References: []Reference{{Field: "author", Resource: "user"}}})
	assert.Error(t, registry.Validate())
}
