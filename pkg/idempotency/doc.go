// Package idempotency makes retried mutations safe. A client-supplied
// key plus a hash of the request body either replays the stored
// response or rejects the key when the body changed.
package idempotency
