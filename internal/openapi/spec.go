// Package openapi embeds the HTTP API description.
package openapi

import (
	_ "embed"

	"sigs.k8s.io/yaml"
)

//go:embed spec.yaml
var specYAML []byte

// JSON returns the API description converted to JSON.
func JSON() ([]byte, error) {
	return yaml.YAMLToJSON(specYAML)
}

// YAML returns the embedded document unchanged.
func YAML() []byte {
	return specYAML
}
