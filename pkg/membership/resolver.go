package membership

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/logger"
)

// Source lists the memberships of a user. Implementations may include deleted
// and pending rows; the resolver filters them.
type Source interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Membership, error)
}

// Resolver picks the organization whose subscription governs a user.
type Resolver struct {
	src    Source
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver. Panics if src is nil.
func NewResolver(src Source, opts ...Option) *Resolver {
	if src == nil {
		panic("membership: Source is required")
	}
	r := &Resolver{src: src, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveGoverningOrg returns the governing organization for userID.
// The boolean is false when the user has no eligible membership.
func (r *Resolver) ResolveGoverningOrg(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	memberships, err := r.src.ListByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, false, errors.Join(ErrFailedToListMemberships, err)
	}

	m, ok := Governing(memberships)
	if !ok {
		return uuid.Nil, false, nil
	}

	r.logger.DebugContext(ctx, "resolved governing organization",
		logger.UserID(userID),
		logger.OrganizationID(m.OrganizationID),
		slog.String("role", string(m.Role)))

	return m.OrganizationID, true, nil
}

// Governing selects the governing membership from a user's memberships:
// eligible rows only, lowest role priority first, then earliest CreatedAt,
// then lowest ID so the choice is deterministic.
func Governing(memberships []Membership) (Membership, bool) {
	eligible := make([]Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.Eligible() {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return Membership{}, false
	}

	return slices.MinFunc(eligible, compare), true
}

func compare(a, b Membership) int {
	if d := a.Role.Priority() - b.Role.Priority(); d != 0 {
		return d
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}
