// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core/logger"
)

// TokenCookie is the name of the cookie which may carry the token instead of the
// Authorization header
const TokenCookie = "Docrest-JWT"

// Claims are the claims of a bearer token. The subject becomes the subject of the
// authorization.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// bearerToken returns the token of the Authorization header or the token cookie
func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
			return bearer[7:]
		}
		return bearer
	}
	if cookie, _ := r.Cookie(TokenCookie); cookie != nil {
		return cookie.Value
	}
	return ""
}

// NewToken issues an HMAC signed token for subject with roles. A ttl of zero
// issues a token without expiry.
func NewToken(secret []byte, subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// NewJWTMiddleware returns a middleware handler to validate HMAC signed
// JWT bearer token.
//
// Tokens are accepted as "Authorization: Bearer" header or as "Docrest-JWT"-cookie.
// The "sub" claim becomes the subject and the "roles" claim the roles of the
// authorization.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but invalid.
func NewJWTMiddleware(secret []byte) mux.MiddlewareFunc {
	authCache := NewAuthorizationCache()

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth := authCache.Read(tokenString)
			if auth == nil {
				claims := Claims{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
				if err != nil || !token.Valid {
					logger.FromContext(r.Context()).WithError(err).Infoln("rejected bearer token")
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				auth = &Authorization{Subject: claims.Subject, Roles: claims.Roles}
				// expiring tokens are verified on every request
				if claims.ExpiresAt == nil {
					authCache.Write(tokenString, auth)
				}
			}

			ctx := auth.ContextWithAuthorization(r.Context())
			if auth.Subject != "" {
				ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Subject)
			}
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
