// Package config provides configuration loading and validation for the scriber.
// It handles YAML-based configuration with per-section validation, defaults for
// every field, and an environment overlay read from the process and an optional .env file.
package config
