// Package config loads, normalizes, and validates crease configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as CREASE_API_URL. The Config type centralizes every knob the
// CLI and the background runtime need: backend location, upload timing, state
// and log directories, and the local status API.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
