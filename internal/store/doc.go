// Package store provides persistent storage for the bot using SQLite.
//
// # Architecture
//
// A single Store interface covers settings, users, key bindings, pending
// requests, and traffic history. SQLiteStore implements it in one struct
// and is the sole owner of the database handle; all access goes through
// its methods.
//
// # Data Models
//
//   - User: Telegram user with optional time-limited block
//   - Key: binding of a panel client email to a user
//   - Request: pending key request awaiting admin action
//   - TrafficDay / Snapshot: per-client traffic rows feeding the
//     scheduled reports
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and full synchronous commits so
// acknowledged writes survive process death:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA synchronous=FULL;
//
// The database file lives in a data directory the deployment creates
// ahead of time. NewSQLiteStore refuses to run with a missing or
// read-only directory and returns ErrStorageUnavailable; it never
// creates the directory itself.
//
// # Error Handling
//
//   - ErrStorageUnavailable: data directory missing or not writable
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateKey: key already bound to the same user
//
// Settings lookups are the exception: GetSetting reports a missing key
// with ok=false rather than an error.
//
// All methods accept context.Context for cancellation support.
package store
