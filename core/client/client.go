// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Do executes a request and returns status, header and body of the response. body can
// be a []byte, otherwise it is marshalled to JSON. A nil body sends no body.
func (c Client) Do(method, path string, header map[string]string, body interface{}) (int, http.Header, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, nil, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewReader(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, err
}

// do executes the request and checks the status. result can be nil, a raw *[]byte or
// anything the JSON body can be unmarshalled into.
func (c Client) do(method, path string, header map[string]string, body interface{}, result interface{}, want ...int) (int, http.Header, error) {
	status, resHeader, resBody, err := c.Do(method, path, header, body)
	if err != nil {
		return status, resHeader, err
	}
	ok := false
	for _, w := range want {
		ok = ok || status == w
	}
	if !ok {
		return status, resHeader, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, want[0], strings.TrimSpace(string(resBody)))
	}
	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, resHeader, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodGet, path, nil, nil, result, http.StatusOK, http.StatusNoContent)
	return status, err
}

// RawGetWithHeader gets the resource from path with additional request headers. Expects http.StatusOK
// or http.StatusNotModified as response, otherwise it will flag an error. Returns the actual http status
// code and the response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	return c.do(http.MethodGet, path, header, nil, result, http.StatusOK, http.StatusNotModified, http.StatusNoContent)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPostWithHeader posts a resource to path with additional request headers, see RawPost()
func (c Client) RawPostWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPost, path, header, body, result, http.StatusCreated, http.StatusOK)
	return status, err
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPutWithHeader(path, nil, body, result)
}

// RawPutWithHeader puts a resource to path with additional request headers, see RawPut()
func (c Client) RawPutWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPut, path, header, body, result, http.StatusOK)
	return status, err
}

// RawPatch patches a resource at path with a JSON merge patch. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodPatch, path, nil, body, result, http.StatusOK)
	return status, err
}

// RawDelete deletes the resource at path. Expects http.StatusOK or http.StatusNoContent as
// response, otherwise it will flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, _, err := c.do(http.MethodDelete, path, nil, nil, nil, http.StatusOK, http.StatusNoContent)
	return status, err
}

// unwrap decodes the data member of a {"data":...} response into result
func unwrap(body []byte, result interface{}) error {
	if result == nil || len(body) == 0 {
		return nil
	}
	var response struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return err
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = response.Data
		return nil
	}
	return json.Unmarshal(response.Data, result)
}

// Collection represents the collection of a particular resource
type Collection struct {
	client     Client
	resource   string
	parameters []string
}

// Collection returns a new collection client
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:   c,
		resource: resource,
	}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// WithParameters returns a new collection client with all URL parameters added.
func (r Collection) WithParameters(keyValues map[string]string) Collection {
	for key, value := range keyValues {
		r = r.WithParameter(key, value)
	}
	return r
}

// WithFilter returns a new collection client with a URL filter parameter added.
// This is a shortcut for WithParameter("filter", key+"="+value)
func (r Collection) WithFilter(key string, value string) Collection {
	return r.WithParameter("filter", key+"="+value)
}

func (r Collection) path(suffix string) string {
	path := "/" + core.Plural(r.resource) + suffix
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// CollectionPath returns the created path for the collection plus optional query strings
func (r Collection) CollectionPath() string {
	return r.path("")
}

// Create creates a new item.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	var raw []byte
	status, err := r.client.RawPost(r.CollectionPath(), body, &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// List gets the collection up until the specified limit.
//
// If you potentially need multiple pages, use FirstPage() instead.
//
// The operation corresponds to a GET request.
//
// result can be a slice, []map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	var raw []byte
	status, err := r.client.RawGet(r.CollectionPath(), &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// Count returns the number of items matching the filters of the collection client
func (r Collection) Count() (int, int, error) {
	var response struct {
		Count int `json:"count"`
	}
	status, err := r.client.RawGet(r.path("/count"), &response)
	return response.Count, status, err
}

// First gets the first item of the collection according to sort order and filters.
// Returns http.StatusNotFound if no item matches.
func (r Collection) First(result interface{}) (int, error) {
	var raw []byte
	status, err := r.client.RawGet(r.path("/first"), &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// Item represents a single item in a collection
type Item struct {
	col        Collection
	id         uuid.UUID
	parameters []string
}

// Item gets an item from a collection
func (r Collection) Item(id uuid.UUID) Item {
	return Item{col: r, id: id}
}

// WithParameter returns a new item client with a URL parameter added.
func (r Item) WithParameter(key string, value string) Item {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// Path returns the created path for this item
func (r Item) Path() string {
	path := "/" + core.Plural(r.col.resource) + "/" + r.id.String()
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Read reads an item from a collection
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (r Item) Read(result interface{}) (int, error) {
	var raw []byte
	status, err := r.col.client.RawGet(r.Path(), &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// Update replaces an item.
//
// The operation corresponds to a PUT request.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	var raw []byte
	status, err := r.col.client.RawPut(r.Path(), body, &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// Patch updates selected fields of an item with a JSON merge patch
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	var raw []byte
	status, err := r.col.client.RawPatch(r.Path(), body, &raw)
	if err != nil {
		return status, err
	}
	return status, unwrap(raw, result)
}

// Delete deletes an item from a collection
//
// The operation corresponds to a DELETE request.
//
// Returns the actual http status code.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// Page is a requester for one page in a collection
type Page struct {
	r          Collection
	page       int
	pageCount  int
	totalCount int
}

// FirstPage returns a requester for the first page of a collection
//
// Do not specify the page parameter when using the page requester, as
// it manages page itself. You can set all others parameters, including
// limit.
func (r Collection) FirstPage() Page {
	return Page{page: 1, r: r}
}

// HasData returns true if the page has data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.page == 1 || p.page <= p.pageCount
}

// TotalCount returns the total number of elements (only available after you have called Get on the page)
func (p Page) TotalCount() int {
	return p.totalCount
}

// Get gets one page of the collection
func (p *Page) Get(result interface{}) (int, error) {
	path := p.r.WithParameter("page", strconv.Itoa(p.page)).CollectionPath()
	var raw []byte
	status, header, err := p.r.client.RawGetWithHeader(path, map[string]string{}, &raw)
	if err != nil {
		return status, err
	}
	pageCount, err := strconv.Atoi(header.Get("Pagination-Page-Count"))
	if err == nil {
		p.pageCount = pageCount
	}
	totalCount, err := strconv.Atoi(header.Get("Pagination-Total-Count"))
	if err == nil {
		p.totalCount = totalCount
	}
	return status, unwrap(raw, result)
}

// Next returns the next page
func (p Page) Next() Page {
	return Page{
		r:         p.r,
		page:      p.page + 1,
		pageCount: p.pageCount,
	}
}
