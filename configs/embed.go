// Package configs provides the embedded configuration template that
// `chatindex config init` writes to ~/.config/chatindex/config.yaml.
//
// Configuration precedence (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config file
//  3. Environment variables (CHATINDEX_*)
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration template.
//
//go:embed config.example.yaml
var UserConfigTemplate string
