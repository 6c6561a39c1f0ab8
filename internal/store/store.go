package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/leaselink/messaging/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a storage failure. A send that hits one must not
// be broadcast: only persisted messages may reach subscribers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UnreadableBody is substituted for a message whose stored ciphertext can
// no longer be decrypted. History keeps such entries so its length stays
// stable across reads.
const UnreadableBody = "[unreadable message]"

// MessageStore is the durable append-only log of room messages. Bodies are
// encrypted on Append and decrypted on read.
type MessageStore interface {
	// Append encrypts and persists a message, returning the stored record.
	Append(ctx context.Context, roomID string, senderAccountID, receiverAccountID int, body string) (*models.Message, error)

	// History returns every message in the room in arrival order. Entries
	// that fail decryption carry UnreadableBody instead of being dropped.
	History(ctx context.Context, roomID string) ([]models.Message, error)

	// CountFromTo counts messages sent from one account to another within
	// a room, synthetic replies included.
	CountFromTo(ctx context.Context, roomID string, senderAccountID, receiverAccountID int) (int, error)
}

// IdentityStore is the messaging core's view of the platform's identity
// data: participant-to-account resolution plus the tenant → unit →
// property → landlord chain used by the maintenance trigger.
type IdentityStore interface {
	// AccountForParticipant maps a role-scoped id to its owning account.
	// Returns ErrNotFound for ids that resolve to nothing.
	AccountForParticipant(ctx context.Context, p models.Participant) (int, error)

	// MaintenanceLandlord resolves the landlord responsible for the unit a
	// tenant occupies. Returns the landlord's role id and account id, or
	// ErrNotFound when any link of the chain is missing.
	MaintenanceLandlord(ctx context.Context, tenantRoleID int) (landlordRoleID, accountID int, err error)
}

// Store is the full persistence surface the server is wired against.
type Store interface {
	MessageStore
	IdentityStore

	Ping(ctx context.Context) error
	Close() error
}
