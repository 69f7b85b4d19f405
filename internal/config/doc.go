// Package config provides configuration loading and validation for the call
// session engine. It handles YAML-based configuration with per-section struct
// validation and duration helpers for the time-based parameters.
package config
