package docs

import _ "embed"

// AsyncAPISpec describes the live websocket protocol.
//
//go:embed asyncapi.yaml
var AsyncAPISpec []byte
