// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"

	"github.com/google/uuid"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/query"
)

// Request is a controller request. Receive them with Intercept() or
// HandleResourceRequest()
type Request struct {
	// Resource for which this request is made
	Resource string
	// ResourceID is the primary ID of the resource, for list, count and first requests
	// this is a null uuid.
	ResourceID uuid.UUID
	// Operation for this request
	Operation core.Operation
	// Parameters are the query parameters from the request URL
	Parameters map[string]string
	// Query is the parsed query
	Query query.Query
}

// Interceptor is an in-band request handler
type Interceptor func(ctx context.Context, request Request, data []byte) ([]byte, error)

// Intercept installs an in-band interceptor for a set of operations. If no operations are
// specified, the interceptor will be installed for the Read operation only.
//
// Any returned non-nil error will abort the operation and result in a HTTP error status code. For write
// operations that would be 400 (bad request) and for read operations 500 (internal server error).
//
// If the interceptor returns a non-nil []byte, this will replace the original data. In case of Read, List
// and First, the user will see the interceptor's version. In case of Create or Update, the interceptor's
// version will be written to the store and then be returned to the user. For Delete and Count, the
// interceptor is called before the store with nil data, the returned data is ignored.
func (c *ResourceController) Intercept(handler Interceptor, operations ...core.Operation) {
	if len(operations) == 0 {
		operations = []core.Operation{core.OperationRead}
	}
	for _, operation := range operations {
		key := requestKey(c.resource, operation)
		if _, ok := c.interceptors[operation]; ok {
			logger.FromContext(nil).Fatalf("resource request handler for %s already installed", key)
		}
		logger.FromContext(nil).Debugf("install resource request handler for %s", key)
		c.interceptors[operation] = handler
	}
}

// HandleResourceRequest installs an in-band interceptor for a given resource and a set of operations,
// see ResourceController.Intercept()
func (b *Backend) HandleResourceRequest(resource string, handler Interceptor, operations ...core.Operation) {
	c, ok := b.controllers[resource]
	if !ok {
		logger.FromContext(nil).Fatalf("handle resource request for %s: no such resource", resource)
	}
	c.Intercept(handler, operations...)
}

func requestKey(resource string, operation core.Operation) string {
	key := resource + "(" + string(operation) + ")"
	return key
}

func (c *ResourceController) intercept(a *action, data []byte) ([]byte, error) {
	interceptor, ok := c.interceptors[a.operation]
	if !ok {
		return nil, nil
	}
	parameters := map[string]string{}
	for key, values := range a.r.URL.Query() {
		if len(values) > 0 {
			parameters[key] = values[0]
		}
	}
	return interceptor(a.ctx,
		Request{
			Resource:   c.resource,
			ResourceID: a.id,
			Operation:  a.operation,
			Parameters: parameters,
			Query:      a.query,
		},
		data)
}
