package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/membership"
	"github.com/dmitrymomot/speakbill/pkg/pg"
)

// ListByUser returns the user's non-deleted memberships. Pending ones are
// included; the resolver filters them.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]membership.Membership, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, organization_id, role, status, created_at, deleted_at
		FROM memberships
		WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []membership.Membership
	for rows.Next() {
		var m membership.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.Status, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMembership inserts a membership. Organization and user management live
// elsewhere; this exists for seeding and tests.
func (s *Store) AddMembership(ctx context.Context, m membership.Membership) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memberships (id, user_id, organization_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.OrganizationID, m.Role, m.Status, m.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("membership already exists: %w", err)
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}
