// Package config provides centralized configuration management for the
// agent daemon, combining a JSON configuration file with environment
// variables for secrets and typed accessors for downstream services.
package config
