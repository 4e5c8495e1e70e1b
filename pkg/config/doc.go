// Package config loads service configuration from GATEHOUSE_*
// environment variables, with an optional YAML file overlay.
package config
