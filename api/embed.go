// Package api holds the published contracts of the purchasing service.
package api

import _ "embed"

// OpenAPI is the HTTP contract of the /api/v1/orders surface.
//
//go:embed openapi.yaml
var OpenAPI []byte

// AsyncAPI describes the CloudEvents published on purchasing.orders.
//
//go:embed asyncapi.yaml
var AsyncAPI []byte
