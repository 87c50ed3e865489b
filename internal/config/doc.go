// Package config loads and validates relay configuration from YAML
// files with ${ENV} expansion.
package config
