// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package events carries the change events of resources.

Every successful create, update and delete of a resource produces an Event. Events
are handed to a Publisher, which can be the in-process Bus, a Kafka topic, an SQS
queue, a Redis channel or a combination with Multi. The topic of an event is
"<resource>.<operation>", e.g. "user.create".
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/logger"
)

// Event is a change of a resource
type Event struct {
	Resource   string          `json:"resource"`
	Operation  core.Operation  `json:"operation"`
	ResourceID uuid.UUID       `json:"resource_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Topic returns "<resource>.<operation>"
func (e Event) Topic() string {
	return e.Resource + "." + string(e.Operation)
}

// Marshal returns the JSON encoding of the event
func (e Event) Marshal() ([]byte, error) {
	return json.MarshalWithOption(e, json.DisableHTMLEscape())
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc is a function publisher
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Multi publishes to all publishers. All publishers are called even if some fail.
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler handles events delivered by the Bus
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	resource   string
	operations []core.Operation
	handler    Handler
}

func (s subscription) matches(event Event) bool {
	if s.resource != "" && s.resource != event.Resource {
		return false
	}
	if len(s.operations) == 0 {
		return true
	}
	for _, o := range s.operations {
		if o == event.Operation {
			return true
		}
	}
	return false
}

// Bus is an in-process publisher. Subscribed handlers are called synchronously in the
// order of subscription.
type Bus struct {
	mutex         sync.RWMutex
	subscriptions map[int]subscription
	next          int
}

// NewBus creates a bus without subscriptions
func NewBus() *Bus {
	return &Bus{subscriptions: make(map[int]subscription)}
}

// Subscribe registers handler for events of resource, or of all resources if resource is
// empty. Without operations the handler receives all operations. The returned function
// removes the subscription.
func (b *Bus) Subscribe(resource string, handler Handler, operations ...core.Operation) (unsubscribe func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	id := b.next
	b.next++
	b.subscriptions[id] = subscription{resource: resource, operations: operations, handler: handler}
	return func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		delete(b.subscriptions, id)
	}
}

// Publish delivers the event to all matching handlers. Handler errors and panics are
// logged and do not stop the delivery to other handlers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mutex.RLock()
	var ids []int
	for id, s := range b.subscriptions {
		if s.matches(event) {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subscriptions[id].handler)
	}
	b.mutex.RUnlock()

	rlog := logger.FromContext(ctx)
	for _, handler := range handlers {
		if err := callWithPanicEnvelope(ctx, handler, event); err != nil {
			rlog.WithError(err).Errorf("Error 4801: event handler failed for %s", event.Topic())
		}
	}
	return nil
}

func callWithPanicEnvelope(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	err = handler(ctx, event)
	return
}
