// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/document"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/query"
	"github.com/relabs-tech/docrest/core/schema"
)

// ResourceController is the generated set of handlers bound to one resource
type ResourceController struct {
	backend      *Backend
	config       resourceConfiguration
	resource     string
	plural       string
	collection   string
	primaryKey   string
	schemaID     string
	shape        schema.Shape
	queryConfig  query.Config
	interceptors map[core.Operation]Interceptor
}

var validResource = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// accepted query parameters per operation
var projectionParameters = []string{query.ParamProjection, query.ParamSelect, query.ParamFields, query.ParamPopulate}

var listParameters = append([]string{query.ParamFilter, query.ParamSort, query.ParamLimit, query.ParamSkip,
	query.ParamPage, query.ParamOptions}, projectionParameters...)

var firstParameters = append([]string{query.ParamFilter, query.ParamSort, query.ParamSkip,
	query.ParamOptions}, projectionParameters...)

var countParameters = []string{query.ParamFilter}

func newResourceController(b *Backend, rc resourceConfiguration) *ResourceController {
	if !validResource.MatchString(rc.Resource) {
		panic(fmt.Errorf("invalid resource name '%s'", rc.Resource))
	}
	c := &ResourceController{
		backend:      b,
		config:       rc,
		resource:     rc.Resource,
		plural:       core.Plural(rc.Resource),
		collection:   rc.Collection,
		primaryKey:   document.PrimaryKey(rc.Resource),
		interceptors: make(map[core.Operation]Interceptor),
	}
	if c.collection == "" {
		c.collection = c.plural
	}

	nillog := logger.FromContext(nil)
	if rc.SchemaID != "" {
		if b.validator == nil || !b.validator.HasSchema(rc.SchemaID) {
			nillog.Errorf("ERROR: invalid configuration for resource %s, schemaID %s is unknown. Validation is deactivated for this resource",
				rc.Resource, rc.SchemaID)
		} else {
			c.schemaID = rc.SchemaID
			c.shape, _ = b.validator.Shape(rc.SchemaID)
		}
	}

	c.queryConfig = query.Config{
		DefaultLimit: rc.DefaultLimit,
		MaxLimit:     rc.MaxLimit,
		DefaultSort:  query.DefaultConfig.DefaultSort,
		PrimaryKey:   c.primaryKey,
	}
	if c.queryConfig.MaxLimit <= 0 {
		c.queryConfig.MaxLimit = query.DefaultConfig.MaxLimit
	}
	if c.queryConfig.DefaultLimit <= 0 || c.queryConfig.DefaultLimit > c.queryConfig.MaxLimit {
		c.queryConfig.DefaultLimit = c.queryConfig.MaxLimit
	}
	if rc.DefaultSort != "" {
		fields, err := query.ParseSort(rc.DefaultSort)
		if err != nil {
			panic(fmt.Errorf("invalid default_sort for resource %s: %w", rc.Resource, err))
		}
		c.queryConfig.DefaultSort = c.renameSort(fields)
	}
	return c
}

// Resource returns the resource name
func (c *ResourceController) Resource() string {
	return c.resource
}

// Collection returns the store collection of the resource
func (c *ResourceController) Collection() string {
	return c.collection
}

func (c *ResourceController) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("create resource:", c.resource)
	if c.config.Description != "" {
		nillog.Debugln("  description:", c.config.Description)
	}

	collectionRoute := "/" + c.plural
	countRoute := collectionRoute + "/count"
	firstRoute := collectionRoute + "/first"
	itemRoute := collectionRoute + "/{" + c.primaryKey + "}"

	nillog.Debugln("  handle collection routes:", collectionRoute, "GET,POST")
	router.Handle(collectionRoute, c.pipeline(core.OperationList,
		c.authorize,
		c.parseQuery(listParameters...),
		c.find,
		c.render,
		c.interceptRead,
		c.conditional,
		c.respond,
	)).Methods(http.MethodOptions, http.MethodGet)

	router.Handle(collectionRoute, c.pipeline(core.OperationCreate,
		c.authorize,
		c.parseQuery(projectionParameters...),
		c.decodeBody,
		c.prepareCreate,
		c.validate,
		c.interceptWrite,
		c.insert,
		c.render,
		c.conditional,
		c.respond,
		c.emit,
	)).Methods(http.MethodOptions, http.MethodPost)

	nillog.Debugln("  handle count route:", countRoute, "GET")
	router.Handle(countRoute, c.pipeline(core.OperationCount,
		c.authorize,
		c.parseQuery(countParameters...),
		c.interceptWrite,
		c.count,
		c.respondCount,
	)).Methods(http.MethodOptions, http.MethodGet)

	nillog.Debugln("  handle first route:", firstRoute, "GET")
	router.Handle(firstRoute, c.pipeline(core.OperationFirst,
		c.authorize,
		c.parseQuery(firstParameters...),
		c.first,
		c.render,
		c.interceptRead,
		c.conditional,
		c.respond,
	)).Methods(http.MethodOptions, http.MethodGet)

	nillog.Debugln("  handle item routes:", itemRoute, "GET,PUT,PATCH,DELETE")
	router.Handle(itemRoute, c.pipeline(core.OperationRead,
		c.authorize,
		c.parseID,
		c.parseQuery(projectionParameters...),
		c.load,
		c.render,
		c.interceptRead,
		c.conditional,
		c.respond,
	)).Methods(http.MethodOptions, http.MethodGet)

	router.Handle(itemRoute, c.pipeline(core.OperationUpdate,
		c.authorize,
		c.parseID,
		c.parseQuery(projectionParameters...),
		c.decodeBody,
		c.load,
		c.precondition,
		c.prepareReplace,
		c.validate,
		c.interceptWrite,
		c.update,
		c.render,
		c.conditional,
		c.respond,
		c.emit,
	)).Methods(http.MethodOptions, http.MethodPut)

	router.Handle(itemRoute, c.pipeline(core.OperationUpdate,
		c.authorize,
		c.parseID,
		c.parseQuery(projectionParameters...),
		c.decodeBody,
		c.load,
		c.precondition,
		c.preparePatch,
		c.validate,
		c.interceptWrite,
		c.update,
		c.render,
		c.conditional,
		c.respond,
		c.emit,
	)).Methods(http.MethodOptions, http.MethodPatch)

	router.Handle(itemRoute, c.pipeline(core.OperationDelete,
		c.authorize,
		c.parseID,
		c.parseQuery(),
		c.load,
		c.precondition,
		c.interceptWrite,
		c.remove,
		c.render,
		c.conditional,
		c.respond,
		c.emit,
	)).Methods(http.MethodOptions, http.MethodDelete)
}

// renameSort returns a copy of fields with the primary key addressed as "_id"
func (c *ResourceController) renameSort(fields []query.SortField) []query.SortField {
	renamed := make([]query.SortField, len(fields))
	for i, f := range fields {
		if f.Field == c.primaryKey {
			f.Field = document.FieldID
		}
		renamed[i] = f
	}
	return renamed
}

// queryableField checks a filter or sort field. The store holds the identifiers of
// references, properties of referenced documents exist only after population.
func (c *ResourceController) queryableField(field string) error {
	if !c.knownField(field) {
		return fmt.Errorf("unknown field %s", field)
	}
	parts := strings.SplitN(field, ".", 2)
	if len(parts) == 2 {
		for _, ref := range c.config.References {
			if ref.Field == parts[0] {
				return fmt.Errorf("field %s is a property of the referenced %s, only %s can be queried", field, ref.Resource, ref.Field)
			}
		}
	}
	return nil
}

// knownField returns true if field can be addressed in filters, sorts and projections
func (c *ResourceController) knownField(field string) bool {
	root := strings.SplitN(field, ".", 2)[0]
	if root == c.primaryKey || document.IsSystemField(root) {
		return true
	}
	for _, ref := range c.config.References {
		if ref.Field == root {
			return true
		}
	}
	return c.shape.Has(field)
}
