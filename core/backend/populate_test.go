package backend_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createWithID(t *testing.T, ts *testService, resource string, body map[string]interface{}) string {
	t.Helper()
	var created map[string]interface{}
	_, err := ts.client.Collection(resource).Create(body, &created)
	require.NoError(t, err)
	return created[resource+"_id"].(string)
}

func TestPopulate(t *testing.T) {
	ts := newTestService(t)
	author := createWithID(t, ts, "user", map[string]interface{}{"name": "Ann", "email": "ann@example.com"})
	red := createWithID(t, ts, "tag", map[string]interface{}{"label": "red"})
	blue := createWithID(t, ts, "tag", map[string]interface{}{"label": "blue"})
	missing := uuid.New().String()

	id := createPost(t, ts, map[string]interface{}{
		"title":  "populated",
		"author": author,
		"tags":   []string{blue, missing, red},
	})
	item := ts.client.Collection("post").Item(id)

	var post map[string]interface{}
	_, err := item.Read(&post)
	require.NoError(t, err)
	assert.Equal(t, author, post["author"])

	post = map[string]interface{}{}
	_, err = item.WithParameter("populate", "author,tags").Read(&post)
	require.NoError(t, err)
	populatedAuthor, ok := post["author"].(map[string]interface{})
	require.True(t, ok, post["author"])
	assert.Equal(t, author, populatedAuthor["user_id"])
	assert.Equal(t, "Ann", populatedAuthor["name"])
	assert.Equal(t, "ann@example.com", populatedAuthor["email"])

	tags, ok := post["tags"].([]interface{})
	require.True(t, ok, post["tags"])
	require.Len(t, tags, 2)
	assert.Equal(t, "blue", tags[0].(map[string]interface{})["label"])
	assert.Equal(t, "red", tags[1].(map[string]interface{})["label"])

	// the stored document is not changed
	stored, err := ts.store.FindByID(ts.client.Context(), "posts", id)
	require.NoError(t, err)
	assert.Equal(t, author, stored.Data["author"])
	assert.Len(t, stored.Data["tags"], 3)
}

func TestPopulateSelect(t *testing.T) {
	ts := newTestService(t)
	author := createWithID(t, ts, "user", map[string]interface{}{"name": "Bob", "email": "bob@example.com"})
	id := createPost(t, ts, map[string]interface{}{"title": "selected", "author": author})

	var post map[string]interface{}
	_, err := ts.client.Collection("post").Item(id).
		WithParameter("populate", `[{"path":"author","select":"name"}]`).Read(&post)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"user_id": author, "name": "Bob"}, post["author"])
}

func TestPopulateMissingAuthor(t *testing.T) {
	ts := newTestService(t)
	id := createPost(t, ts, map[string]interface{}{"title": "orphan", "author": uuid.New().String()})

	var post map[string]interface{}
	_, err := ts.client.Collection("post").Item(id).WithParameter("populate", "author").Read(&post)
	require.NoError(t, err)
	assert.Contains(t, post, "author")
	assert.Nil(t, post["author"])
}

func TestPopulateList(t *testing.T) {
	ts := newTestService(t)
	ann := createWithID(t, ts, "user", map[string]interface{}{"name": "Ann"})
	bob := createWithID(t, ts, "user", map[string]interface{}{"name": "Bob"})
	createPost(t, ts, map[string]interface{}{"title": "a", "views": 1, "author": ann})
	createPost(t, ts, map[string]interface{}{"title": "b", "views": 2, "author": bob})
	createPost(t, ts, map[string]interface{}{"title": "c", "views": 3, "author": ann})

	var list []map[string]interface{}
	_, err := ts.client.Collection("post").WithParameter("sort", "views").WithParameter("populate", "author").List(&list)
	require.NoError(t, err)
	require.Len(t, list, 3)
	names := []string{}
	for _, p := range list {
		names = append(names, p["author"].(map[string]interface{})["name"].(string))
	}
	assert.Equal(t, []string{"Ann", "Bob", "Ann"}, names)

	var first map[string]interface{}
	_, err = ts.client.Collection("post").WithParameter("sort", "-views").WithParameter("populate", "author").First(&first)
	require.NoError(t, err)
	assert.Equal(t, "Ann", first["author"].(map[string]interface{})["name"])
}

func TestQueryReferencedProperties(t *testing.T) {
	ts := newTestService(t)
	ann := createWithID(t, ts, "user", map[string]interface{}{"name": "Ann"})
	createPost(t, ts, map[string]interface{}{"title": "p", "author": ann})

	// references hold identifiers in the store, their properties cannot be queried
	for _, path := range []string{
		"/posts?populate=author&filter=author.name=Ann",
		"/posts?populate=author&sort=author.name",
		"/posts/count?filter=" + url.QueryEscape(`{"tags.label":"red"}`),
	} {
		status, body := do(t, ts.client, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, decodeError(t, body).Error.Message, "referenced", path)
	}

	var list []map[string]interface{}
	_, err := ts.client.Collection("post").WithFilter("author", ann).List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// projections apply after population
	list = nil
	_, err = ts.client.Collection("post").WithParameter("populate", "author").WithParameter("projection", "author.name").List(&list)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]interface{}{"name": "Ann"}, list[0]["author"])
}

func TestPopulateUnknownPath(t *testing.T) {
	ts := newTestService(t)
	id := createPost(t, ts, map[string]interface{}{"title": "x"})

	for _, path := range []string{
		"/posts/" + id.String() + "?populate=title",
		"/posts?populate=author.friends",
		"/users?populate=" + url.QueryEscape(`[{"path":"posts"}]`),
		"/posts?populate=" + url.QueryEscape(`{"select":"name"}`),
	} {
		status, body := do(t, ts.client, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Equal(t, http.StatusBadRequest, decodeError(t, body).Error.Status, path)
	}

	// populate is not accepted for count
	status, _ := do(t, ts.client, http.MethodGet, "/posts/count?populate=author", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
