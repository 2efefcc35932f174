// Package config parses PLFM_-prefixed environment variables into an
// explicit Config passed to each component at startup.
package config
