// Package configs embeds the configuration template written by
// 'shelf config init'. The same template serves the library file
// (<library>/.shelf.yaml) and the user file (~/.config/shelf/config.yaml).
package configs

import _ "embed"

// ConfigTemplate is the commented example configuration.
//
//go:embed config.example.yaml
var ConfigTemplate string
