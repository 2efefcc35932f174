// Package secrets handles the encrypted secret bundles: the canonical
// dotenv envelope, AES-256-GCM sealing under the master key, and the
// atomic file drop a node agent performs before boot.
package secrets
