package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leaselink/messaging/internal/models"
	"github.com/leaselink/messaging/internal/store"
)

// The identity tables are owned by the wider platform; the messaging core
// only reads them. The Create* helpers below exist so the server can be
// exercised standalone and in tests.

func (s *SQLStore) AccountForParticipant(ctx context.Context, p models.Participant) (int, error) {
	var query string
	switch p.Role {
	case models.RoleTenant:
		query = "SELECT account_id FROM tenants WHERE id = ?"
	case models.RoleLandlord:
		query = "SELECT account_id FROM landlords WHERE id = ?"
	default:
		return 0, fmt.Errorf("role %q: %w", p.Role, store.ErrNotFound)
	}

	var accountID int
	err := s.db.QueryRowContext(ctx, s.rebind(query), p.RoleID).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %d: %w", p.Role, p.RoleID, store.ErrNotFound)
	}
	if err != nil {
		return 0, &store.PersistenceError{Op: "resolve participant", Err: err}
	}
	return accountID, nil
}

func (s *SQLStore) MaintenanceLandlord(ctx context.Context, tenantRoleID int) (int, int, error) {
	query := s.rebind(`
		SELECT l.id, l.account_id
		FROM tenants t
		JOIN units u ON t.unit_id = u.id
		JOIN properties p ON u.property_id = p.id
		JOIN landlords l ON p.landlord_id = l.id
		WHERE t.id = ?
	`)

	var landlordRoleID, accountID int
	err := s.db.QueryRowContext(ctx, query, tenantRoleID).Scan(&landlordRoleID, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("no landlord for tenant %d: %w", tenantRoleID, store.ErrNotFound)
	}
	if err != nil {
		return 0, 0, &store.PersistenceError{Op: "resolve maintenance landlord", Err: err}
	}
	return landlordRoleID, accountID, nil
}

func (s *SQLStore) CreateAccount(ctx context.Context, displayName string) (int, error) {
	return s.insertReturningID(ctx, "INSERT INTO accounts (display_name) VALUES (?)", displayName)
}

func (s *SQLStore) CreateLandlord(ctx context.Context, accountID int) (int, error) {
	return s.insertReturningID(ctx, "INSERT INTO landlords (account_id) VALUES (?)", accountID)
}

func (s *SQLStore) CreateProperty(ctx context.Context, landlordID int, address string) (int, error) {
	return s.insertReturningID(ctx, "INSERT INTO properties (landlord_id, address) VALUES (?, ?)", landlordID, address)
}

func (s *SQLStore) CreateUnit(ctx context.Context, propertyID int, label string) (int, error) {
	return s.insertReturningID(ctx, "INSERT INTO units (property_id, label) VALUES (?, ?)", propertyID, label)
}

// CreateTenant registers a tenant; unitID may be nil for tenants not yet
// placed in a unit.
func (s *SQLStore) CreateTenant(ctx context.Context, accountID int, unitID *int) (int, error) {
	return s.insertReturningID(ctx, "INSERT INTO tenants (account_id, unit_id) VALUES (?, ?)", accountID, unitID)
}
