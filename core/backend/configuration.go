// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/relabs-tech/docrest/core/access"
	"github.com/relabs-tech/docrest/core/population"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Resources []resourceConfiguration `json:"resources"`
}

// resourceConfiguration describes a resource and its controller
type resourceConfiguration struct {
	Resource string `json:"resource"`
	// Collection defaults to the plural of the resource
	Collection string                 `json:"collection"`
	SchemaID   string                 `json:"schema_id"`
	References []population.Reference `json:"references"`
	Permits    []access.Permit        `json:"permits"`
	// DefaultSort defaults to "-created_at"
	DefaultSort  string `json:"default_sort"`
	DefaultLimit int    `json:"default_limit"`
	MaxLimit     int    `json:"max_limit"`
	// Silent resources do not emit events
	Silent      bool   `json:"silent"`
	Description string `json:"description"`
}
