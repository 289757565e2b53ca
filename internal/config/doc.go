// Package config loads and validates the engine configuration.
//
// Configuration comes from a YAML file overlaid by BB_* environment
// variables. Validation happens once at startup; a violation is a process
// exit before any relay is contacted, never a failure at use time.
package config
