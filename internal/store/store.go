package store

import (
	"context"
	"time"
)

// UserStatus is the persisted presence state of a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	Status       UserStatus
	LastSeen     *time.Time
	CreatedAt    time.Time
}

// Message represents a persisted chat message. Rooms are identified by the
// external chat identifier, the relay itself never writes these rows.
type Message struct {
	ID        int64
	RoomID    string
	UserID    int64
	Body      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsers returns all registered (non-guest) users.
	ListUsers(ctx context.Context) ([]*User, error)
}

// PresenceStore persists best-effort presence state. Failures here must
// never interrupt a live connection.
type PresenceStore interface {
	// SetUserStatus updates a user's status; for offline transitions the
	// last_seen timestamp is set as well.
	SetUserStatus(ctx context.Context, userID int64, status UserStatus, lastSeen *time.Time) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message to storage.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages from a room with pagination.
	// If beforeID is provided, returns messages older than that ID.
	// Limit determines max number of messages to return.
	ListMessages(ctx context.Context, roomID string, limit int, beforeID *int64) ([]*Message, error)
}

// Store combines all persistence interfaces.
type Store interface {
	UserStore
	PresenceStore
	MessageStore

	// Close releases the underlying database resources.
	Close() error
}
