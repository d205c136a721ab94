package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("not so secret")

func newRouter(middlewares ...mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	for _, m := range middlewares {
		router.Use(m)
	}
	HandleAuthorizationRoute(router)
	return router
}

func get(router http.Handler, token string, cookie bool) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
	if token != "" {
		if cookie {
			r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
		} else {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	router := newRouter(NewJWTMiddleware(secret))

	// no token, no authorization
	w := get(router, "", false)
	assert.Equal(t, http.StatusNoContent, w.Code)

	token, err := NewToken(secret, "joe", []string{"editor"}, time.Hour)
	require.NoError(t, err)
	for _, cookie := range []bool{false, true} {
		w = get(router, token, cookie)
		require.Equal(t, http.StatusOK, w.Code)
		var auth Authorization
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
		assert.Equal(t, "joe", auth.Subject)
		assert.Equal(t, []string{"editor"}, auth.Roles)
	}

	// tokens without expiry are cached
	token, err = NewToken(secret, "ann", []string{"admin"}, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(router, token, false).Code)
	assert.Equal(t, http.StatusOK, get(router, token, false).Code)

	// wrong secret
	token, err = NewToken([]byte("other"), "joe", nil, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(router, token, false).Code)

	// expired
	token, err = NewToken(secret, "joe", nil, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(router, token, false).Code)

	// wrong signing method
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(router, none, false).Code)

	assert.Equal(t, http.StatusUnauthorized, get(router, "garbage", false).Code)
}

func TestBackdoorMiddleware(t *testing.T) {
	router := newRouter(
		NewBackdoorMiddleware(map[string]Authorization{"please": {Subject: "root", Roles: []string{"admin"}}}),
		NewJWTMiddleware(secret),
	)

	w := get(router, "please", false)
	require.Equal(t, http.StatusOK, w.Code)
	var auth Authorization
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	assert.Equal(t, "root", auth.Subject)

	// unknown tokens go to the jwt middleware
	assert.Equal(t, http.StatusUnauthorized, get(router, "thanks", false).Code)
}
