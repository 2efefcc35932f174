// Package migrate holds the embedded schema history for the control
// plane database and applies pending steps at startup or via the
// migrate subcommand.
package migrate
