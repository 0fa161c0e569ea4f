// Package api carries the gateway's published interface definitions.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3 document the REST layer validates requests
// against and serves at /docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
