package backend_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/backend"
	"github.com/relabs-tech/docrest/core/events"
)

type recorder struct {
	mutex  sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ctx context.Context, event events.Event) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]events.Event{}, r.events...)
}

func TestResourceEvents(t *testing.T) {
	ts := newTestService(t)
	rec := &recorder{}
	unsubscribe := ts.backend.HandleResourceEvent("post", rec.handle)

	creates := &recorder{}
	ts.backend.HandleResourceEvent("post", creates.handle, core.OperationCreate)

	c := ts.client.WithHeader("X-Request-ID", "request-4711")
	var post map[string]interface{}
	_, err := c.Collection("post").Create(map[string]interface{}{"title": "evented"}, &post)
	require.NoError(t, err)
	id := createPost(t, ts, map[string]interface{}{"title": "second"})
	_, err = ts.client.Collection("post").Item(id).Patch(map[string]interface{}{"title": "patched"}, nil)
	require.NoError(t, err)
	_, err = ts.client.Collection("post").Item(id).Delete()
	require.NoError(t, err)

	// reads and failed writes emit nothing
	_, err = ts.client.Collection("post").Item(id).Read(nil)
	require.Error(t, err)
	_, _ = ts.client.Collection("post").List(nil)

	all := rec.all()
	require.Len(t, all, 4)
	assert.Equal(t, core.OperationCreate, all[0].Operation)
	assert.Equal(t, post["post_id"], all[0].ResourceID.String())
	assert.Equal(t, "post", all[0].Resource)
	assert.Equal(t, "request-4711", all[0].RequestID)
	assert.Equal(t, "post.create", all[0].Topic())
	assert.False(t, all[0].Timestamp.IsZero())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(all[0].Payload, &payload))
	assert.Equal(t, post, payload)

	assert.Equal(t, core.OperationCreate, all[1].Operation)
	assert.Equal(t, core.OperationUpdate, all[2].Operation)
	assert.Equal(t, id, all[2].ResourceID)
	assert.NotEmpty(t, all[2].RequestID)
	require.NoError(t, json.Unmarshal(all[2].Payload, &payload))
	assert.Equal(t, "patched", payload["title"])
	assert.EqualValues(t, 2, payload["revision"])
	assert.Equal(t, core.OperationDelete, all[3].Operation)
	assert.Equal(t, id, all[3].ResourceID)

	assert.Len(t, creates.all(), 2)

	unsubscribe()
	createPost(t, ts, map[string]interface{}{"title": "unheard"})
	assert.Len(t, rec.all(), 4)
	assert.Len(t, creates.all(), 3)
}

func TestSilentResource(t *testing.T) {
	ts := newTestService(t)
	rec := &recorder{}
	ts.backend.HandleResourceEvent("note", rec.handle)

	var note map[string]interface{}
	_, err := ts.client.Collection("note").Create(map[string]interface{}{"title": "quiet"}, &note)
	require.NoError(t, err)
	_, err = ts.client.RawDelete("/notes/" + note["note_id"].(string))
	require.NoError(t, err)
	assert.Empty(t, rec.all())
}

func TestFailingEventHandler(t *testing.T) {
	ts := newTestService(t)
	ts.backend.HandleResourceEvent("post", func(ctx context.Context, event events.Event) error {
		return errors.New("handler failed")
	})
	ts.backend.HandleResourceEvent("post", func(ctx context.Context, event events.Event) error {
		panic("handler panicked")
	})
	rec := &recorder{}
	ts.backend.HandleResourceEvent("post", rec.handle)

	status, body := do(t, ts.client, http.MethodPost, "/posts", nil, map[string]interface{}{"title": "robust"})
	assert.Equal(t, http.StatusCreated, status, string(body))
	assert.Len(t, rec.all(), 1)
}

func TestPublisher(t *testing.T) {
	published := &recorder{}
	fail := false
	ts := newTestService(t, func(b *backend.Builder) {
		b.Publisher = events.PublisherFunc(func(ctx context.Context, event events.Event) error {
			published.handle(ctx, event)
			if fail {
				return errors.New("broker down")
			}
			return nil
		})
	})
	local := &recorder{}
	ts.backend.HandleResourceEvent("tag", local.handle)

	status, body := do(t, ts.client, http.MethodPost, "/tags", nil, map[string]interface{}{"label": "green"})
	assert.Equal(t, http.StatusCreated, status, string(body))
	require.Len(t, published.all(), 1)
	assert.Equal(t, "tag.create", published.all()[0].Topic())
	assert.Len(t, local.all(), 1)

	// publish failures do not change the response
	fail = true
	status, body = do(t, ts.client, http.MethodPost, "/tags", nil, map[string]interface{}{"label": "grey"})
	assert.Equal(t, http.StatusCreated, status, string(body))
	assert.Len(t, published.all(), 2)
	assert.Len(t, local.all(), 2)
}
