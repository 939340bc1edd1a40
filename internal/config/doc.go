// Package config loads and saves floo's user settings.
//
// Settings come from three places, later ones overriding earlier ones:
//
//  1. built-in defaults
//  2. the settings file, ~/.config/floo/config.toml (or .yaml/.yml)
//  3. FLOO_* environment variables
//
// Command line flags are applied on top by the caller. Credentials are kept
// per host in the same file; the account link flow writes them with Save.
package config
