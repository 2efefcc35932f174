// Package quota enforces per-org resource limits. Reservations happen
// in the same transaction as the events they guard, so a rolled back
// command never leaks usage.
package quota
