// Package storage persists job records.
//
// It is the source of truth the in-memory timer registry is rebuilt from
// after a restart. Two drivers are supported:
//   - "sqlite": SQLite database file (default)
//   - "mongo": MongoDB collection
package storage
