package backend_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidation(t *testing.T) {
	ts := newTestService(t)
	users := ts.client.Collection("user")

	status, body := do(t, ts.client, http.MethodPost, "/users", nil, map[string]interface{}{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
	assert.Contains(t, decodeError(t, body).Error.Message, "https://docrest.dev/user.json")

	status, body = do(t, ts.client, http.MethodPost, "/users", nil, map[string]interface{}{"name": 42})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	var user map[string]interface{}
	_, err := users.Create(map[string]interface{}{"name": "Carl", "age": 30}, &user)
	require.NoError(t, err)
	path := "/users/" + user["user_id"].(string)

	// system fields are not part of the schema check
	status, body = do(t, ts.client, http.MethodPut, path, nil, map[string]interface{}{"name": "Carl", "revision": 1, "created_at": "x"})
	assert.Equal(t, http.StatusOK, status, string(body))

	status, body = do(t, ts.client, http.MethodPatch, path, nil, map[string]interface{}{"name": nil})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	status, body = do(t, ts.client, http.MethodPut, path, nil, map[string]interface{}{"age": 31})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	// rejected writes leave the document unchanged
	stored, err := ts.store.FindByID(ts.client.Context(), "users", uuid.MustParse(user["user_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "Carl", stored.Data["name"])
	assert.Equal(t, 2, stored.Revision)

	// resources without schema accept anything
	status, body = do(t, ts.client, http.MethodPost, "/tags", nil, map[string]interface{}{"anything": []int{1, 2}})
	assert.Equal(t, http.StatusCreated, status, string(body))
}

func TestSchemaFields(t *testing.T) {
	ts := newTestService(t)
	_, err := ts.client.Collection("user").Create(map[string]interface{}{"name": "Dora", "email": "dora@example.com"}, nil)
	require.NoError(t, err)

	for _, path := range []string{
		"/users?filter=name=Dora",
		"/users?filter=email~dora%25",
		"/users?sort=user_id",
		"/users?sort=-created_at,name",
		"/users?projection=name,email",
		"/users/count?filter=" + url.QueryEscape(`{"age":{"$exists":false}}`),
	} {
		status, body := do(t, ts.client, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, status, path+": "+string(body))
	}

	for _, path := range []string{
		"/users?filter=nickname=x",
		"/users?sort=nickname",
		"/users?projection=nickname",
		"/users/first?filter=" + url.QueryEscape(`{"$and":[{"nickname":"x"}]}`),
	} {
		status, body := do(t, ts.client, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, decodeError(t, body).Error.Message, "unknown field nickname", path)
	}
}
