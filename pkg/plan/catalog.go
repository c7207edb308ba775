package plan

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog is the read-only plan model. It is loaded once and safe for
// concurrent use.
type Catalog struct {
	byID  map[string]Plan
	byKey map[string]Plan
	list  []Plan
}

// NewCatalog loads plans from src and validates them. Plans are ordered by
// Tier; keys, IDs and tiers must be unique.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		return nil, errors.Join(ErrFailedToLoadPlans, errors.New("nil plan source"))
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		byID:  make(map[string]Plan, len(plans)),
		byKey: make(map[string]Plan, len(plans)),
		list:  make([]Plan, 0, len(plans)),
	}
	tiers := make(map[int]string, len(plans))

	for _, p := range plans {
		if err := validate.Struct(p); err != nil {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %q: %w", p.Key, err))
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan key %q", p.Key))
		}
		if other, dup := tiers[p.Tier]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plans %q and %q share tier %d", other, p.Key, p.Tier))
		}

		c.byID[p.ID] = p
		c.byKey[p.Key] = p
		tiers[p.Tier] = p.Key
		c.list = append(c.list, p)
	}

	slices.SortFunc(c.list, func(a, b Plan) int { return a.Tier - b.Tier })

	return c, nil
}

// Get returns the plan with the given ID.
func (c *Catalog) Get(_ context.Context, planID string) (Plan, error) {
	p, ok := c.byID[planID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: id %q", ErrPlanNotFound, planID)
	}
	return p, nil
}

// ByKey returns the plan with the given key.
func (c *Catalog) ByKey(_ context.Context, key string) (Plan, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Plan{}, fmt.Errorf("%w: key %q", ErrPlanNotFound, key)
	}
	return p, nil
}

// List returns all plans ordered by tier, lowest first.
func (c *Catalog) List(context.Context) []Plan {
	return slices.Clone(c.list)
}
