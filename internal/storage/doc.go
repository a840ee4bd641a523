// Package storage persists the engine's named collections and the audit trail.
//
// A Store moves opaque documents by name; Collections wraps each document in a
// versioned envelope and heals corrupt or unknown data by quarantining it and
// resetting the collection to its default.
//
// Drivers:
//   - "file": one <name>.json per collection, written atomically, plus audit.jsonl
//   - "sqlite": a single database file (modernc.org/sqlite, pure Go)
package storage
