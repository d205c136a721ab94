// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/query"
)

// ResourceStatistics represents information about a resource
type ResourceStatistics struct {
	Resource   string `json:"resource"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// StatisticsDetails represents information about the backend resources
type StatisticsDetails struct {
	Resources []ResourceStatistics `json:"resources"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /statistics GET")
	router.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.statisticsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole(access.RoleAdmin) {
			writeError(w, r, http.StatusUnauthorized, "not authorized")
			return
		}
	}

	// sorted so that the Etag does not depend on the order of the configuration
	resources := sort.StringSlice(b.Resources())
	resources.Sort()

	s := StatisticsDetails{Resources: []ResourceStatistics{}}
	for _, resource := range resources {
		collection := b.controllers[resource].collection
		count, err := b.store.Count(r.Context(), collection, query.Filter{})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4028: count", collection)
			writeError(w, r, http.StatusInternalServerError, "Error 4028")
			return
		}
		s.Resources = append(s.Resources, ResourceStatistics{
			Resource:   resource,
			Collection: collection,
			Count:      count,
		})
	}

	jsonData, _ := json.Marshal(s)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}
