// Package cache holds the proxy's response cache: the CachedResponse record,
// the deterministic cache key derived from method, path, query and a fixed
// header whitelist, and the Store that keeps every record in memory while
// mirroring the whole map into a single JSON snapshot file. Snapshot writes go
// through a billy filesystem (temp file + rename) so tests can swap in memfs.
// Storage I/O failures never reach callers; they are logged as warnings and the
// in-memory map stays authoritative.
package cache
