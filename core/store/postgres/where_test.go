package postgres

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core/query"
)

func TestWhere(t *testing.T) {
	id := "0b9c5d8e-6a1f-4c55-9a3e-2f0d6a7b8c91"
	cases := []struct {
		filter string
		sql    string
		params []interface{}
	}{
		{
			"name=joe",
			"(data #>> $1::text[]) = $2",
			[]interface{}{pq.Array([]string{"name"}), "joe"},
		},
		{
			"address.city~Ber%",
			"(data #>> $1::text[]) LIKE $2",
			[]interface{}{pq.Array([]string{"address", "city"}), "Ber%"},
		},
		{
			`{"age":{"$gte":30}}`,
			"(jsonb_typeof(data #> $1::text[]) = jsonb_typeof($2::jsonb) AND data #> $1::text[] >= $2::jsonb)",
			[]interface{}{pq.Array([]string{"age"}), "30"},
		},
		{
			`{"name":"joe","active":true}`,
			"(data #> $1::text[] = $2::jsonb AND data #> $3::text[] = $4::jsonb)",
			[]interface{}{pq.Array([]string{"active"}), "true", pq.Array([]string{"name"}), `"joe"`},
		},
		{
			`{"name":{"$ne":"joe"}}`,
			"data #> $1::text[] IS DISTINCT FROM $2::jsonb",
			[]interface{}{pq.Array([]string{"name"}), `"joe"`},
		},
		{
			`{"tag":{"$in":["a","b"]}}`,
			"$2::jsonb @> jsonb_build_array(data #> $1::text[])",
			[]interface{}{pq.Array([]string{"tag"}), `["a","b"]`},
		},
		{
			`{"tag":{"$nin":["a"]}}`,
			"NOT COALESCE($2::jsonb @> jsonb_build_array(data #> $1::text[]), FALSE)",
			[]interface{}{pq.Array([]string{"tag"}), `["a"]`},
		},
		{
			`{"deleted":{"$exists":false}}`,
			"data #> $1::text[] IS NULL",
			[]interface{}{pq.Array([]string{"deleted"})},
		},
		{
			`{"$or":[{"name":"joe"},{"name":"jim"}]}`,
			"(data #> $1::text[] = $2::jsonb OR data #> $3::text[] = $4::jsonb)",
			[]interface{}{pq.Array([]string{"name"}), `"joe"`, pq.Array([]string{"name"}), `"jim"`},
		},
		{
			`{"_id":{"$in":["` + id + `","nonsense"]}}`,
			"id IN ($1)",
			[]interface{}{id},
		},
		{
			`{"_id":"nonsense"}`,
			"FALSE",
			nil,
		},
		{
			`{"revision":{"$gt":2}}`,
			"revision > $1",
			[]interface{}{2},
		},
		{
			`{"created_at":{"$exists":true}}`,
			"TRUE",
			nil,
		},
	}

	for _, c := range cases {
		f, err := query.ParseFilter([]string{c.filter})
		require.NoError(t, err, c.filter)
		b := &builder{}
		sql, err := b.where(f)
		require.NoError(t, err, c.filter)
		assert.Equal(t, c.sql, sql, c.filter)
		assert.Equal(t, c.params, b.params, c.filter)
	}
}

func TestOrderBy(t *testing.T) {
	b := &builder{}
	assert.Equal(t, "id", b.orderBy(nil))

	fields, err := query.ParseSort("-created_at,address.city")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC NULLS LAST, data #> $1::text[] ASC NULLS FIRST, id", b.orderBy(fields))
	assert.Equal(t, []interface{}{pq.Array([]string{"address", "city"})}, b.params)

	b = &builder{}
	assert.Equal(t, "id DESC NULLS LAST", b.orderBy([]query.SortField{{Field: "_id", Descending: true}}))
}
