// Package api holds the OpenAPI description of the REST surface.
package api

import _ "embed"

// OpenAPI is the schema used for request validation and served at /api/docs/openapi.yaml
//
//go:embed openapi.yaml
var OpenAPI []byte
