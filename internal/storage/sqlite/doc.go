// Package sqlite provides a storage.Store backed by a SQLite database.
package sqlite
