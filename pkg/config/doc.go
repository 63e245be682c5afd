// Package config loads and validates Paddock's YAML configuration,
// layering file values over built-in defaults.
package config
