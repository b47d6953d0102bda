// Package config provides configuration loading and validation for the
// emotion relay service. It handles YAML-based configuration with
// per-section validation and environment override of the analysis endpoint.
package config
