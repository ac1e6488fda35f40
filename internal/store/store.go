package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered account.
type User struct {
	ID           string // UUID
	Username     string
	PasswordHash string
	DisplayName  string
	Role         string // "client" or "freelancer"
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID             string // UUID, issued on save
	LocalID        string // client correlation id, may be empty
	ConversationID string // sorted pair key of the two participant ids
	SenderID       string
	ReceiverID     string
	Content        string
	CreatedAt      time.Time
	Read           bool
}

// Conversation is one row of a user's conversation list: the latest message
// plus the unread count for that user.
type Conversation struct {
	ID           string
	LastSenderID string
	LastContent  string
	LastAt       time.Time
	Unread       int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password and returns it with
	// its issued id.
	CreateUser(ctx context.Context, username, passwordHash, displayName, role string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListContacts lists every registered user except excludeID.
	ListContacts(ctx context.Context, excludeID string) ([]*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message, issuing its id when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves a conversation's messages in chronological
	// order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// ListConversations lists the conversations userID takes part in, most
	// recent activity first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// MarkRead marks every message addressed to readerID in the conversation
	// as read.
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
