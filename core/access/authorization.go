// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// predefined roles
const (
	// RoleAdmin is authorized for everything
	RoleAdmin = "admin"
	// RolePublic applies to every request, authenticated or not
	RolePublic = "public"
	// RoleEverybody applies to every authenticated request
	RoleEverybody = "everybody"
)

/*Authorization is a context object which stores authorization information
for users or machines.

An authorization carries the subject it was issued for and a list of roles.
It can also carry additional properties.

Authorizations are added to a request context with

	ctx = auth.ContextWithAuthorization(ctx)

and retrieved with

	auth := AuthorizationFromContext(ctx)

Authorization objects are added to the context by the JWT middleware for bearer
tokens, or by the backdoor middleware for static tokens.
*/
type Authorization struct {
	Subject    string            `json:"subject,omitempty"`
	Roles      []string          `json:"roles"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Permit grants a role a list of operations
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Property returns the value for the requested property; if the
// identifier does not exist, it returns an empty string and false.
func (a *Authorization) Property(name string) (string, bool) {
	if a == nil || a.Properties == nil {
		return "", false
	}
	value, ok := a.Properties[name]
	return value, ok
}

// IsAuthorized returns true if the authorization is authorized for the requested
// operation according to the passed permits.
//
// The "admin" role is always authorized. A permit for "public" applies to everyone,
// also to requests without authorization. A permit for "everybody" applies to all
// authenticated requests. The list operation also grants count and first.
func (a *Authorization) IsAuthorized(operation core.Operation, permits []Permit) bool {
	if a.HasRole(RoleAdmin) {
		return true
	}

	var roles []string
	if a != nil {
		roles = append(roles, a.Roles...)
		roles = append(roles, RoleEverybody)
	}
	roles = append(roles, RolePublic)

	for _, permit := range permits {
		if !contains(roles, permit.Role) {
			continue
		}
		for _, permitted := range permit.Operations {
			if permitted == operation {
				return true
			}
			if permitted == core.OperationList && (operation == core.OperationCount || operation == core.OperationFirst) {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// ContextWithAuthorization returns a new context with the authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return a.ContextWithAuthorization(ctx)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// jwt middleware to cache authorization objects for bearer tokens, so a token
// is verified only once.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("authorization")
	rlog.Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
