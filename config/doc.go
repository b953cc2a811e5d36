// Package config loads the server configuration from YAML with environment
// overrides. AuthConfig satisfies auth.Config.
//
// Environment variables follow the pattern AUTH_SECTION_KEY, for example
// AUTH_SIGNING_KEY or AUTH_DATABASE_DSN. Secrets should always come from the
// environment in production.
package config
