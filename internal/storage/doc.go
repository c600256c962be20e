// Package storage persists the chime history: one row per attempt, fired or
// skipped, queried newest first per chat.
package storage
