// Package scheduler converges instance placement toward the declared
// state of every environment. Each pass groups instances by
// (env, process type), compares spec hashes, starts replacements under
// a surge budget and drains replaced or orphaned instances.
package scheduler
