//go:build integration

package test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/events"
)

func TestIntegration(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) TestCRUDWithPostgres() {
	users := s.client.Collection("user")
	posts := s.client.Collection("post")

	var user map[string]interface{}
	_, err := users.Create(map[string]interface{}{"name": "Ann"}, &user)
	s.Require().NoError(err)

	var post map[string]interface{}
	_, err = posts.Create(map[string]interface{}{"title": "stored", "views": 3, "author": user["user_id"]}, &post)
	s.Require().NoError(err)
	id := uuid.MustParse(post["post_id"].(string))

	var read map[string]interface{}
	_, err = posts.Item(id).WithParameter("populate", "author").Read(&read)
	s.Require().NoError(err)
	s.Equal("Ann", read["author"].(map[string]interface{})["name"])

	_, err = posts.Item(id).Patch(map[string]interface{}{"views": 4}, &read)
	s.Require().NoError(err)
	s.EqualValues(2, read["revision"])

	var list []map[string]interface{}
	_, err = posts.WithParameter("filter", `{"views":{"$gte":4}}`).List(&list)
	s.Require().NoError(err)
	s.Len(list, 1)

	count, _, err := posts.WithFilter("title", "stored").Count()
	s.Require().NoError(err)
	s.Equal(1, count)

	status, _, body, err := s.client.Do(http.MethodPut, posts.Item(id).Path(), nil, map[string]interface{}{"revision": 1})
	s.Require().NoError(err)
	s.Equal(http.StatusConflict, status, string(body))

	_, err = posts.Item(id).Delete()
	s.Require().NoError(err)
	_, err = posts.Item(id).Read(nil)
	s.Error(err)
}

func (s *IntegrationTestSuite) TestEventsOnKafka() {
	r := s.reader()
	defer r.Close()

	var user map[string]interface{}
	_, err := s.client.Collection("user").Create(map[string]interface{}{"name": "Bob"}, &user)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		msg, err := r.ReadMessage(ctx)
		s.Require().NoError(err)
		var event events.Event
		s.Require().NoError(json.Unmarshal(msg.Value, &event))
		if event.ResourceID.String() != user["user_id"] {
			continue
		}
		s.Equal("user", event.Resource)
		s.Equal(core.OperationCreate, event.Operation)
		s.Equal(user["user_id"], string(msg.Key))
		return
	}
}
