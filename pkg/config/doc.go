// Package config loads the YAML configuration for the monitor binary and
// maps it onto the session settings.
package config
