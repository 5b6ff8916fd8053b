// Package coordination provides the key-value store behind resource locks and
// the shared cache: set-if-absent with a ttl, compare-and-delete and
// compare-and-expire.
//
// Redis implements the compare operations as Lua scripts so the read and the
// write happen atomically on the server. Memory serializes them on a mutex and
// is meant for single-process deployments and tests.
package coordination
