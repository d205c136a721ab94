// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/store"
)

// errNotModified ends a pipeline with 304 and no body
var errNotModified = errors.New("not modified")

// statusError is an error with a HTTP status
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string {
	return e.err.Error()
}

func (e *statusError) Unwrap() error {
	return e.err
}

func withStatus(status int, err error) error {
	return &statusError{status: status, err: err}
}

// statusOf maps an error to the HTTP status of the response. Everything which is not
// explicitly mapped is a bad request, this includes validation and store failures.
func statusOf(err error) int {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError writes {"error":{"status":n,"message":"..."}}
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger.FromContext(r.Context()).Debugf("%s %s: %d %s", r.Method, r.URL.Path, status, message)
	data, _ := json.MarshalWithOption(errorEnvelope{Error: errorBody{Status: status, Message: message}}, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(data)
}

type meta struct {
	Total int `json:"total"`
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
	Page  int `json:"page"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *meta           `json:"meta,omitempty"`
}

type countEnvelope struct {
	Count int `json:"count"`
}

func bytesToEtag(data []byte, extra ...int) string {
	h := fnv.New64a()
	h.Write(data)
	for _, e := range extra {
		h.Write([]byte("/" + strconv.Itoa(e)))
	}
	return fmt.Sprintf("\"%016x\"", h.Sum64())
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	t := strings.Trim(strings.TrimPrefix(etag, "W/"), " \"")
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(strings.TrimPrefix(strings.TrimSpace(s), "W/"), " \"")
		if s == t {
			return true
		}
	}
	return false
}

// parseHTTPTime parses a HTTP date header. An empty or malformed header returns false.
func parseHTTPTime(header string) (time.Time, bool) {
	if header == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// notModifiedSince returns true if lastModified, at HTTP date precision, is not after since
func notModifiedSince(lastModified, since time.Time) bool {
	return !lastModified.Truncate(time.Second).After(since)
}
