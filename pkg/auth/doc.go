// Package auth resolves bearer tokens to principals and runs the
// device-code login flow for the CLI.
package auth
