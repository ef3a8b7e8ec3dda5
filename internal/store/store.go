// ABOUTME: Store interface and data types for bot persistence
// ABOUTME: Defines User, Key, Request structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable is returned when the database cannot be opened
// because its data directory is missing or not writable. The directory is
// expected to exist before the process starts; the store never creates it.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrDuplicateKey is returned when binding a key that is already bound
// to the same user
var ErrDuplicateKey = errors.New("key already bound")

// User represents a Telegram user known to the bot
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	BlockedUntil time.Time // zero when not blocked
	CreatedAt    time.Time
}

// Blocked reports whether the user is blocked at the given instant.
func (u *User) Blocked(now time.Time) bool {
	return !u.BlockedUntil.IsZero() && u.BlockedUntil.After(now)
}

// Key represents a binding between a Telegram user and a panel client.
// One panel client (identified by its email) may be shared by several users.
type Key struct {
	ID        int64
	UserID    int64
	Email     string
	InboundID int
	Comment   string
	CreatedAt time.Time
}

// KeyBinding is a key joined with its owning user, for admin listings
type KeyBinding struct {
	Email     string
	InboundID int
	Comment   string
	UserID    int64
	Username  string
	FirstName string
}

// Request represents a pending key request awaiting admin action
type Request struct {
	ID        string // uuid
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// TrafficDay is one day of traffic attributed to a panel client email
type TrafficDay struct {
	Email string
	Up    int64
	Down  int64
	Date  string // YYYY-MM-DD
}

// Snapshot is a daily record of a client's cumulative traffic counters
type Snapshot struct {
	Email   string
	Up      int64
	Down    int64
	AllTime int64
	Date    string // YYYY-MM-DD
}

// PeriodStat aggregates traffic_history rows for one email over a period
type PeriodStat struct {
	Email         string
	PeriodTraffic int64
	ActiveDays    int
}

// Store defines the interface for bot persistence
type Store interface {
	// Settings: opaque key/value state. Get never errors on a missing
	// key; it reports ok=false instead.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error

	// Users
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	BlockUser(ctx context.Context, id int64, d time.Duration) error
	UnblockUser(ctx context.Context, id int64) error
	IsBlocked(ctx context.Context, id int64) (bool, error)
	ListBlocked(ctx context.Context) ([]*User, error)

	// Keys
	AddKey(ctx context.Context, key *Key) error
	ListKeysByUser(ctx context.Context, userID int64) ([]*Key, error)
	RemoveKey(ctx context.Context, userID int64, email string) error
	CountUsersByEmail(ctx context.Context, email string) (int, error)
	ListKeysWithUsers(ctx context.Context) ([]*KeyBinding, error)
	CountKeys(ctx context.Context) (int, error)

	// Pending requests
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	DeleteRequest(ctx context.Context, id string) error
	ListRequestsByUser(ctx context.Context, userID int64) ([]*Request, error)
	ListRequests(ctx context.Context) ([]*Request, error)

	// Traffic history and usage snapshots (for scheduled reports)
	SaveTrafficDay(ctx context.Context, day *TrafficDay) error
	PeriodStats(ctx context.Context, startDate, endDate string) ([]*PeriodStat, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, email, date string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, email string, maxDays int) ([]*Snapshot, error)

	// Close releases any resources held by the store
	Close() error
}
