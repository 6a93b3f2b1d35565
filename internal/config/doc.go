// Package config handles configuration loading and validation for the lip-sync service.
// Configuration is read from YAML on top of built-in defaults and validated per section.
package config
