// Package config loads the worker's settings from an optional YAML file and
// REPORTGEN_* environment variables through viper, applies defaults and
// validates the result before any component starts.
package config
