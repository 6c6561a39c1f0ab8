// Package identity resolves role-scoped participants to accounts and
// derives stable room identifiers for a pair of accounts.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/leaselink/messaging/internal/models"
	"github.com/leaselink/messaging/internal/store"
)

// ErrUnknownParticipant means a role id maps to no account. Sends naming
// such a participant are aborted before anything is persisted.
var ErrUnknownParticipant = errors.New("unknown participant")

// RoomID derives the room shared by two accounts. It is commutative:
// swapping the arguments yields the same id, so either party (and a
// reconnecting client) recomputes it identically. Account ids are used
// rather than role ids because role ids are not unique across roles.
func RoomID(accountA, accountB int) string {
	lo, hi := accountA, accountB
	if lo > hi {
		lo, hi = hi, lo
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "room:%d:%d", lo, hi))
	return hex.EncodeToString(sum[:])
}

// Resolver maps participants to accounts via the platform identity data.
type Resolver struct {
	ids store.IdentityStore
}

func NewResolver(ids store.IdentityStore) *Resolver {
	return &Resolver{ids: ids}
}

func (r *Resolver) ResolveAccount(ctx context.Context, p models.Participant) (int, error) {
	accountID, err := r.ids.AccountForParticipant(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%s %d: %w", p.Role, p.RoleID, ErrUnknownParticipant)
	}
	if err != nil {
		return 0, err
	}
	return accountID, nil
}

// MaintenanceLandlord walks tenant → unit → property → landlord and
// returns the responsible landlord as a participant plus its account id.
func (r *Resolver) MaintenanceLandlord(ctx context.Context, tenantRoleID int) (models.Participant, int, error) {
	landlordRoleID, accountID, err := r.ids.MaintenanceLandlord(ctx, tenantRoleID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Participant{}, 0, fmt.Errorf("tenant %d: %w", tenantRoleID, ErrUnknownParticipant)
	}
	if err != nil {
		return models.Participant{}, 0, err
	}
	return models.Participant{Role: models.RoleLandlord, RoleID: landlordRoleID}, accountID, nil
}
