package domain

import (
	"context"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListActive(ctx context.Context, offset, limit int) ([]*User, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
}

// ConversationRepository defines persistence operations for direct conversations.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participantIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
	MarkAsRead(ctx context.Context, conversationID, userID int64) error
	FindExistingDirect(ctx context.Context, participantIDs []int64) (*Conversation, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListForConversation(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID int64) ([]*User, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// GateRepository is the storage contract of the consent gate. The two
// compare-and-set operations (MarkThresholdCrossed, UnlockLevel) and the
// message-count increment must be single atomic storage operations so the gate
// stays correct across horizontally scaled instances sharing one store.
type GateRepository interface {
	// IncrementMessageCount atomically bumps the conversation's message count
	// and returns the post-increment value.
	IncrementMessageCount(ctx context.Context, conversationID int64) (int64, error)

	// MessageCount returns the current accepted-message count. Readers must
	// use this rather than any cached copy, since the gate store is the only
	// writer of the counter.
	MessageCount(ctx context.Context, conversationID int64) (int64, error)

	// MarkThresholdCrossed sets the per-(conversation, level) crossing marker.
	// Returns true only for the caller that set it first.
	MarkThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error)

	// IsThresholdCrossed reports whether the marker is set.
	IsThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error)

	// EnsureConsentRecord creates the ledger row as pending/incomplete if it
	// does not exist yet. Idempotent.
	EnsureConsentRecord(ctx context.Context, conversationID, userID int64, level int) error

	// GetConsentRecord returns the ledger row, or nil if it was never created.
	GetConsentRecord(ctx context.Context, conversationID, userID int64, level int) (*LevelConsentRecord, error)

	// SetProfileComplete marks the questionnaire done. Idempotent.
	SetProfileComplete(ctx context.Context, conversationID, userID int64, level int) error

	// SetConsent applies a consent decision. Granting is terminal and
	// idempotent; declining is a conditional write that is a no-op when the
	// record is already granted. Both dismiss the popup for the crossing.
	SetConsent(ctx context.Context, conversationID, userID int64, level int, granted bool) error

	// UnlockLevel adds the level to the conversation's unlocked set.
	// Returns true only for the caller that unlocked it first.
	UnlockLevel(ctx context.Context, conversationID int64, level int) (bool, error)

	// UnlockedLevels returns the levels already unlocked, ascending.
	UnlockedLevels(ctx context.Context, conversationID int64) ([]int, error)
}
