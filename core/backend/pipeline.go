// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/events"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/population"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/store"
)

// action is the state of one request travelling through a pipeline
type action struct {
	w         http.ResponseWriter
	r         *http.Request
	ctx       context.Context
	operation core.Operation
	status    int

	id       uuid.UUID
	query    query.Query
	body     document.Document
	revision int
	// data is the free-form part of the document to be written
	data document.Document
	// current is the stored record before a write
	current store.Record
	records []store.Record
	total   int
	payload []byte
}

// step is one stage of a pipeline. A returned error ends the pipeline.
type step func(a *action) error

// pipeline composes steps into a handler. The first error is written as error
// response, errNotModified as 304 without body.
func (c *ResourceController) pipeline(operation core.Operation, steps ...step) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := &action{
			w:         w,
			r:         r,
			ctx:       r.Context(),
			operation: operation,
			status:    http.StatusOK,
		}
		for _, s := range steps {
			err := s(a)
			if err == nil {
				continue
			}
			if errors.Is(err, errNotModified) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			writeError(w, r, statusOf(err), err.Error())
			return
		}
	})
}

func (c *ResourceController) authorize(a *action) error {
	if !c.backend.authorizationEnabled {
		return nil
	}
	auth := access.AuthorizationFromContext(a.ctx)
	if !auth.IsAuthorized(a.operation, c.config.Permits) {
		return withStatus(http.StatusUnauthorized, errors.New("not authorized"))
	}
	return nil
}

func (c *ResourceController) parseID(a *action) error {
	id, err := uuid.Parse(mux.Vars(a.r)[c.primaryKey])
	if err != nil {
		return withStatus(http.StatusBadRequest, fmt.Errorf("invalid %s: %w", c.primaryKey, err))
	}
	a.id = id
	return nil
}

// parseQuery parses the URL query. The primary key is renamed to "_id", fields must be known
// to the schema of the resource and populate paths must be references.
func (c *ResourceController) parseQuery(accepted ...string) step {
	return func(a *action) error {
		q, err := query.Parse(a.r.URL.Query(), c.queryConfig, accepted...)
		if err != nil {
			return err
		}
		q.Filter = q.Filter.Rename(c.primaryKey, document.FieldID)
		q.Sort = c.renameSort(q.Sort)

		for _, field := range q.Filter.Fields() {
			if err := c.queryableField(field); err != nil {
				return &query.Error{Parameter: query.ParamFilter, Err: err}
			}
		}
		for _, f := range q.Sort {
			if err := c.queryableField(f.Field); err != nil {
				return &query.Error{Parameter: query.ParamSort, Err: err}
			}
		}
		for _, field := range q.Projection.Fields {
			if !c.knownField(field) {
				return &query.Error{Parameter: query.ParamProjection, Err: fmt.Errorf("unknown field %s", field)}
			}
		}
		if err := c.backend.resolver.Check(c.resource, q.Populate); err != nil {
			return &query.Error{Parameter: query.ParamPopulate, Err: err}
		}
		a.query = q
		return nil
	}
}

// decodeBody reads the JSON object of the request. An identifier in the body must match
// the identifier of the URL, a revision is taken for optimistic locking.
func (c *ResourceController) decodeBody(a *action) error {
	if a.r.Body == nil {
		return withStatus(http.StatusBadRequest, errors.New("invalid json data: empty body"))
	}
	body, done, err := requestBody(a.r)
	if err != nil {
		return withStatus(http.StatusBadRequest, err)
	}
	defer done()

	var doc document.Document
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return withStatus(http.StatusBadRequest, fmt.Errorf("invalid json data: %w", err))
	}
	if doc == nil {
		return withStatus(http.StatusBadRequest, errors.New("invalid json data: expected an object"))
	}

	if value, ok := doc[c.primaryKey]; ok && a.id != uuid.Nil {
		if s, _ := value.(string); s != a.id.String() {
			return withStatus(http.StatusBadRequest, fmt.Errorf("illegal %s", c.primaryKey))
		}
	}
	if value, ok := doc[document.FieldRevision]; ok && value != nil {
		n, isNumber := value.(float64)
		if !isNumber || n < 1 || n != math.Trunc(n) {
			return withStatus(http.StatusBadRequest, fmt.Errorf("invalid %s", document.FieldRevision))
		}
		a.revision = int(n)
	}
	a.body = doc
	return nil
}

// prepareCreate takes the identifier from the body if there is one, otherwise it creates a new one
func (c *ResourceController) prepareCreate(a *action) error {
	a.id = uuid.New()
	if value, ok := a.body[c.primaryKey]; ok && value != nil {
		s, _ := value.(string)
		id, err := uuid.Parse(s)
		if err != nil {
			return withStatus(http.StatusBadRequest, fmt.Errorf("invalid %s: %w", c.primaryKey, err))
		}
		// zero uuid counts as no uuid for creation
		if id != uuid.Nil {
			a.id = id
		}
	}
	a.data = document.Strip(a.body, c.primaryKey)
	return nil
}

func (c *ResourceController) prepareReplace(a *action) error {
	a.data = document.Strip(a.body, c.primaryKey)
	return nil
}

// preparePatch applies the body as merge patch to the stored document. Without an explicit
// revision the patch is bound to the revision it was applied to.
func (c *ResourceController) preparePatch(a *action) error {
	data := document.Clone(a.current.Data)
	if data == nil {
		data = document.Document{}
	}
	document.Merge(data, document.Strip(a.body, c.primaryKey))
	a.data = data
	if a.revision == 0 {
		a.revision = a.current.Revision
	}
	return nil
}

func (c *ResourceController) validate(a *action) error {
	if c.schemaID == "" {
		return nil
	}
	if err := c.backend.validator.ValidateDocument(a.data, c.schemaID); err != nil {
		logger.FromContext(a.ctx).WithError(err).Infof("document does not follow schemaID %s", c.schemaID)
		return withStatus(http.StatusBadRequest, fmt.Errorf("document does not follow schemaID %s, %w", c.schemaID, err))
	}
	return nil
}

// interceptWrite calls the interceptor with the document to be written. For delete and count
// the interceptor is called with nil data.
func (c *ResourceController) interceptWrite(a *action) error {
	var data []byte
	if a.data != nil {
		doc := document.Clone(a.data)
		doc[c.primaryKey] = a.id.String()
		data, _ = json.MarshalWithOption(doc, json.DisableHTMLEscape())
	}
	replaced, err := c.intercept(a, data)
	if err != nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4726: request interceptor for %s", requestKey(c.resource, a.operation))
		status := http.StatusInternalServerError
		if a.operation.IsWrite() {
			status = http.StatusBadRequest
		}
		return withStatus(status, err)
	}
	if replaced == nil || a.data == nil {
		return nil
	}
	var doc document.Document
	if err := json.Unmarshal(replaced, &doc); err != nil || doc == nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4727: request interceptor for %s returned invalid data", requestKey(c.resource, a.operation))
		return withStatus(http.StatusInternalServerError, errors.New("Error 4727"))
	}
	a.data = document.Strip(doc, c.primaryKey)
	return nil
}

// storeError logs unexpected store failures
func (c *ResourceController) storeError(a *action, err error, code string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", c.resource, a.id, err)
	}
	if !errors.Is(err, store.ErrConflict) {
		logger.FromContext(a.ctx).WithError(err).Errorf("%s: %s %s in %s", code, a.operation, c.resource, c.collection)
	}
	return err
}

func (c *ResourceController) load(a *action) error {
	record, err := c.backend.store.FindByID(a.ctx, c.collection, a.id)
	if err != nil {
		return c.storeError(a, err, "Error 4711")
	}
	a.current = record
	a.records = []store.Record{record}
	return nil
}

// precondition rejects writes with If-Unmodified-Since if the document changed later
func (c *ResourceController) precondition(a *action) error {
	since, ok := parseHTTPTime(a.r.Header.Get("If-Unmodified-Since"))
	if ok && !notModifiedSince(a.current.UpdatedAt, since) {
		return withStatus(http.StatusPreconditionFailed,
			fmt.Errorf("%s %s was modified at %s", c.resource, a.id, a.current.UpdatedAt.UTC().Format(http.TimeFormat)))
	}
	return nil
}

func (c *ResourceController) insert(a *action) error {
	record, err := c.backend.store.Insert(a.ctx, c.collection, store.Record{ID: a.id, Data: a.data})
	if err != nil {
		return c.storeError(a, err, "Error 4712")
	}
	a.records = []store.Record{record}
	a.status = http.StatusCreated
	a.w.Header().Set("Location", a.r.URL.Path+"/"+record.ID.String())
	return nil
}

func (c *ResourceController) update(a *action) error {
	record, err := c.backend.store.Update(a.ctx, c.collection, store.Record{ID: a.id, Revision: a.revision, Data: a.data})
	if err != nil {
		return c.storeError(a, err, "Error 4713")
	}
	a.records = []store.Record{record}
	return nil
}

func (c *ResourceController) remove(a *action) error {
	record, err := c.backend.store.Delete(a.ctx, c.collection, a.id)
	if err != nil {
		return c.storeError(a, err, "Error 4714")
	}
	a.records = []store.Record{record}
	return nil
}

func (c *ResourceController) find(a *action) error {
	records, err := c.backend.store.Find(a.ctx, c.collection, store.Find{
		Filter: a.query.Filter,
		Sort:   a.query.Sort,
		Limit:  a.query.Limit,
		Skip:   a.query.Skip,
	})
	if err != nil {
		return c.storeError(a, err, "Error 4715")
	}
	total, err := c.backend.store.Count(a.ctx, c.collection, a.query.Filter)
	if err != nil {
		return c.storeError(a, err, "Error 4716")
	}
	a.records = records
	a.total = total
	return nil
}

func (c *ResourceController) first(a *action) error {
	records, err := c.backend.store.Find(a.ctx, c.collection, store.Find{
		Filter: a.query.Filter,
		Sort:   a.query.Sort,
		Limit:  1,
		Skip:   a.query.Skip,
	})
	if err != nil {
		return c.storeError(a, err, "Error 4717")
	}
	if len(records) == 0 {
		return withStatus(http.StatusNotFound, fmt.Errorf("no matching %s", c.resource))
	}
	a.records = records
	return nil
}

func (c *ResourceController) count(a *action) error {
	total, err := c.backend.store.Count(a.ctx, c.collection, a.query.Filter)
	if err != nil {
		return c.storeError(a, err, "Error 4716")
	}
	a.total = total
	return nil
}

// render turns the records into the response payload: populated, projected and marshalled
func (c *ResourceController) render(a *action) error {
	docs := make([]document.Document, len(a.records))
	for i, record := range a.records {
		docs[i] = record.Document(c.primaryKey)
	}
	if err := c.backend.resolver.Populate(a.ctx, c.resource, docs, a.query.Populate); err != nil {
		if !errors.Is(err, population.ErrUnknownPath) && !errors.Is(err, population.ErrTooDeep) {
			logger.FromContext(a.ctx).WithError(err).Errorf("Error 4731: populate %s", c.resource)
		}
		return err
	}
	if !a.query.Projection.IsEmpty() {
		for i := range docs {
			docs[i] = a.query.Projection.Apply(docs[i], c.primaryKey)
		}
	}

	var err error
	if a.operation == core.OperationList {
		a.payload, err = json.MarshalWithOption(docs, json.DisableHTMLEscape())
	} else {
		a.payload, err = json.MarshalWithOption(docs[0], json.DisableHTMLEscape())
	}
	if err != nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4732: cannot marshal %s", c.resource)
		return withStatus(http.StatusInternalServerError, errors.New("Error 4732"))
	}
	return nil
}

// interceptRead calls the interceptor with the rendered payload
func (c *ResourceController) interceptRead(a *action) error {
	data, err := c.intercept(a, a.payload)
	if err != nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4726: request interceptor for %s", requestKey(c.resource, a.operation))
		return withStatus(http.StatusInternalServerError, errors.New("Error 4726"))
	}
	if data != nil {
		a.payload = data
	}
	return nil
}

// conditional sets Last-Modified and Etag. Reads answer with 304 if the client's version
// is still current, If-None-Match takes precedence over If-Modified-Since.
func (c *ResourceController) conditional(a *action) error {
	var lastModified time.Time
	for _, record := range a.records {
		if record.UpdatedAt.After(lastModified) {
			lastModified = record.UpdatedAt
		}
	}
	var etag string
	if a.operation == core.OperationList {
		etag = bytesToEtag(a.payload, a.total, a.query.Skip, a.query.Limit)
	} else {
		etag = bytesToEtag(a.payload)
	}
	header := a.w.Header()
	header.Set("Etag", etag)
	if !lastModified.IsZero() {
		header.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}

	if a.r.Method != http.MethodGet {
		return nil
	}
	if ifNoneMatch := a.r.Header.Get("If-None-Match"); ifNoneMatch != "" {
		if ifNoneMatchFound(ifNoneMatch, etag) {
			return errNotModified
		}
		return nil
	}
	if since, ok := parseHTTPTime(a.r.Header.Get("If-Modified-Since")); ok && !lastModified.IsZero() {
		if notModifiedSince(lastModified, since) {
			return errNotModified
		}
	}
	return nil
}

func (c *ResourceController) respond(a *action) error {
	response := envelope{Data: a.payload}
	header := a.w.Header()
	if a.operation == core.OperationList {
		limit := a.query.Limit
		response.Meta = &meta{
			Total: a.total,
			Limit: limit,
			Skip:  a.query.Skip,
			Page:  a.query.Page(),
		}
		header.Set("Pagination-Limit", strconv.Itoa(limit))
		header.Set("Pagination-Total-Count", strconv.Itoa(a.total))
		header.Set("Pagination-Page-Count", strconv.Itoa(((a.total-1)/limit)+1))
		header.Set("Pagination-Current-Page", strconv.Itoa(a.query.Page()))
	}
	data, err := json.MarshalWithOption(response, json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4741: cannot marshal response for %s", c.resource)
		return withStatus(http.StatusInternalServerError, errors.New("Error 4741"))
	}
	header.Set("Content-Type", "application/json; charset=utf-8")
	a.w.WriteHeader(a.status)
	a.w.Write(data)
	return nil
}

func (c *ResourceController) respondCount(a *action) error {
	data, _ := json.Marshal(countEnvelope{Count: a.total})
	a.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	a.w.Write(data)
	return nil
}

// emit publishes the event of a successful write. Publish failures are logged, the
// response has already been written.
func (c *ResourceController) emit(a *action) error {
	if c.config.Silent || len(a.records) == 0 {
		return nil
	}
	record := a.records[0]
	payload, _ := json.MarshalWithOption(record.Document(c.primaryKey), json.DisableHTMLEscape())
	event := events.Event{
		Resource:   c.resource,
		Operation:  a.operation,
		ResourceID: record.ID,
		Payload:    payload,
		RequestID:  logger.RequestIDFromContext(a.ctx),
		Timestamp:  time.Now().UTC(),
	}
	if err := c.backend.publisher.Publish(a.ctx, event); err != nil {
		logger.FromContext(a.ctx).WithError(err).Errorf("Error 4751: cannot publish %s", event.Topic())
	}
	return nil
}
