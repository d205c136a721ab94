// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/events"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/population"
	"github.com/relabs-tech/docrest/core/schema"
	"github.com/relabs-tech/docrest/core/store"
)

// Backend is the generic rest backend
type Backend struct {
	config               Configuration
	store                store.Store
	router               *mux.Router
	validator            *schema.Validator
	bus                  *events.Bus
	publisher            events.Publisher
	resolver             *population.Resolver
	authorizationEnabled bool
	controllers          map[string]*ResourceController
	resources            []string
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// Store is the document store. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Validator validates documents of resources with a schema_id. This is optional.
	Validator *schema.Validator
	// Publisher receives create, update and delete events in addition to the
	// in-process handlers installed with HandleResourceEvent. This is optional.
	Publisher events.Publisher
	// If AuthorizationEnabled is true, the backend checks the permits of every request
	AuthorizationEnabled bool
	// JWTSecret installs the bearer token middleware. This is optional.
	JWTSecret []byte
	// Backdoors are static tokens with fixed authorizations, e.g. for service accounts. This is optional.
	Backdoors map[string]access.Authorization
	// MaxPopulateDepth limits nested populate, population.DefaultMaxDepth if zero
	MaxPopulateDepth int
}

// New realizes the actual backend. It prepares the store collections (if the store
// needs that) and adds actual routes to router
func New(bb *Builder) *Backend {

	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}

	if bb.Store == nil {
		panic("Store is missing")
	}

	if bb.Router == nil {
		panic("Router is missing")
	}

	b := &Backend{
		config:               config,
		store:                bb.Store,
		router:               bb.Router,
		validator:            bb.Validator,
		bus:                  events.NewBus(),
		authorizationEnabled: bb.AuthorizationEnabled,
		controllers:          make(map[string]*ResourceController),
	}
	b.publisher = b.bus
	if bb.Publisher != nil {
		b.publisher = events.Multi{b.bus, bb.Publisher}
	}

	registry := population.NewRegistry()
	b.resolver = &population.Resolver{Store: b.store, Registry: registry, MaxDepth: bb.MaxPopulateDepth}

	for _, rc := range config.Resources {
		if _, ok := b.controllers[rc.Resource]; ok {
			panic(fmt.Errorf("resource %s is configured twice", rc.Resource))
		}
		c := newResourceController(b, rc)
		b.controllers[rc.Resource] = c
		b.resources = append(b.resources, rc.Resource)
		registry.Register(population.Model{
			Resource:   c.resource,
			Collection: c.collection,
			References: rc.References,
		})
	}
	if err := registry.Validate(); err != nil {
		panic(fmt.Errorf("invalid backend configuration: %w", err))
	}

	if ensurer, ok := b.store.(store.Ensurer); ok {
		for _, resource := range b.resources {
			collection := b.controllers[resource].collection
			if err := ensurer.EnsureCollection(context.Background(), collection); err != nil {
				panic(fmt.Errorf("cannot prepare collection %s: %w", collection, err))
			}
		}
	}

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleCompression()
	if bb.Backdoors != nil {
		b.router.Use(access.NewBackdoorMiddleware(bb.Backdoors))
	}
	if bb.JWTSecret != nil {
		b.router.Use(access.NewJWTMiddleware(bb.JWTSecret))
	}

	access.HandleAuthorizationRoute(b.router)
	b.handleVersion(b.router)
	b.handleStatistics(b.router)
	b.handleRoutes(b.router)
	return b
}

// handleRoutes adds all necessary handlers for the configuration
func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: HandleRoutes")
	for _, resource := range b.resources {
		b.controllers[resource].handleRoutes(router)
	}
}

// Controller returns the controller of resource, or nil if the resource is not configured
func (b *Backend) Controller(resource string) *ResourceController {
	return b.controllers[resource]
}

// Resources returns the configured resource names in configuration order
func (b *Backend) Resources() []string {
	return append([]string{}, b.resources...)
}

// HandleResourceEvent installs an in-process event handler for a resource and a set
// of operations. Without operations the handler receives create, update and delete
// events. The handler is called after the response has been written; errors and panics
// are logged.
func (b *Backend) HandleResourceEvent(resource string, handler events.Handler, operations ...core.Operation) (unsubscribe func()) {
	if _, ok := b.controllers[resource]; !ok {
		logger.FromContext(nil).Fatalf("handle resource event for %s: no such resource", resource)
	}
	logger.FromContext(nil).Debugf("install event handler for %s %v", resource, operations)
	return b.bus.Subscribe(resource, handler, operations...)
}
