// Package configs embeds the configuration template written by
// `docindex config init`.
//
// The same template serves the user config (~/.config/docindex/config.yaml)
// and a project config (.docindex.yaml). Load order is documented in
// internal/config.Load.
package configs

import _ "embed"

// ConfigTemplate is the commented example configuration.
//
//go:embed docindex.example.yaml
var ConfigTemplate string
