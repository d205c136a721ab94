// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backend implements the configurable backend

A backend manages documents in a store and provides an auto-generated RESTful-API for them.
Each configured resource gets a resource controller.

Configuration

The configuration is done entirely via JSON. It consists of a list of resources.

Example:

	{
	  "resources": [
	    {
	      "resource": "user",
	      "schema_id": "https://example.com/user.json",
	      "permits": [{"role": "everybody", "operations": ["read", "list"]}]
	    },
	    {
	      "resource": "post",
	      "references": [
	        {"field": "author", "resource": "user"},
	        {"field": "tags", "resource": "tag", "many": true}
	      ],
	      "default_sort": "-created_at",
	      "max_limit": 50
	    },
	    {
	      "resource": "tag",
	      "silent": true
	    }
	  ]
	}

Documents of a resource live in a collection named after the plural of the resource,
unless "collection" says otherwise. If "schema_id" names a known schema, every written
document is validated against it and filters, sorts and projections may only address
properties the schema declares. Resources marked "silent" do not emit events.

The example creates the following REST routes for "post" (and likewise for "user" and "tag"):

	POST /posts
	GET /posts
	GET /posts/count
	GET /posts/first
	GET /posts/{post_id}
	PUT /posts/{post_id}
	PATCH /posts/{post_id}
	DELETE /posts/{post_id}

The model looks like this:

	Post
	{
		"post_id": UUID,
		"created_at": TIMESTAMP,
		"updated_at": TIMESTAMP,
		"revision": INTEGER,
		...free-form properties
	}

The system properties are maintained by the backend. A "post_id" in the body of a POST
request is honored: this supports moving documents between databases.

Responses

Documents are returned as {"data": document}, lists as

	{"data": [...], "meta": {"total": n, "limit": n, "skip": n, "page": n}}

together with the headers Pagination-Limit, Pagination-Total-Count, Pagination-Page-Count
and Pagination-Current-Page. Count returns {"count": n}. Errors are returned as

	{"error": {"status": n, "message": "..."}}

Query Parameters

	filter      filter=name=john, filter=name~jo% or filter={"age":{"$gt":30}}
	projection  projection=name,email or projection=-password ("select" and "fields" are aliases)
	sort        sort=-created_at,name
	limit       1..max_limit, default 100
	skip, page  skip=n or page=n, mutually exclusive
	options     options={"sort":"-age","limit":10,"skip":5}
	populate    populate=author,tags or populate=[{"path":"author","select":"name"}]

Unknown parameters are rejected with 400.

Conditional Requests

Responses with documents carry Last-Modified and Etag. A GET request with a matching
If-None-Match, or with If-Modified-Since not before Last-Modified, is answered with 304.
PUT, PATCH and DELETE honor If-Unmodified-Since with 412. A "revision" in the body of PUT
or PATCH must match the stored revision, otherwise the request fails with 409. A PATCH
without revision fails with 409 if the document changed while the patch was applied.

Events

After a successful write the backend emits an event with the operation create, update or
delete and the written document as payload. Install in-process handlers with
HandleResourceEvent(), pass a Publisher to the builder for Kafka, SQS or Redis.

Interceptors

In-band interceptors are installed with Controller(resource).Intercept() or
HandleResourceRequest(). They can reject requests or replace the data.

Authorization

If AuthorizationEnabled is set, every request is checked against the permits of the
resource. The role "admin" has access to everything, "public" applies to requests without
authorization and "everybody" to all authorized requests. The list permit also grants
count and first.

Further routes

	GET /version        the version of the build, admin only with authorization
	GET /authorization  the authorization of the caller
	GET /statistics     document counts per resource, admin only with authorization
*/
package backend
