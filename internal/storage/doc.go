package storage

// Package storage persists the alarm registry snapshot and the dispatch audit trail.
//
// Drivers:
//   - file:   JSON snapshot (atomic rename) + JSON Lines audit log
//   - sqlite: modernc.org/sqlite database file
//   - bolt:   bbolt key/value file
//   - redis:  remote redis (snapshot as one JSON value, audit as a capped list)
