package pgstore

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// Load implements plan.Source by reading the plans table.
func (s *Store) Load(ctx context.Context) ([]plan.Plan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, key, tier, name, price_amount, price_currency,
		       ai_feedback_enabled, tts_enabled, max_students, max_scripts
		FROM plans
		ORDER BY tier`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []plan.Plan
	for rows.Next() {
		var p plan.Plan
		err := rows.Scan(&p.ID, &p.Key, &p.Tier, &p.Name, &p.PriceMonthly.Amount, &p.PriceMonthly.Currency,
			&p.AIFeedbackEnabled, &p.TTSEnabled, &p.MaxStudents, &p.MaxScripts)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// UpsertPlan writes a catalog entry, used to sync a YAML catalog into the
// database.
func (s *Store) UpsertPlan(ctx context.Context, p plan.Plan) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO plans (id, key, tier, name, price_amount, price_currency,
		                   ai_feedback_enabled, tts_enabled, max_students, max_scripts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			tier = EXCLUDED.tier,
			name = EXCLUDED.name,
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			ai_feedback_enabled = EXCLUDED.ai_feedback_enabled,
			tts_enabled = EXCLUDED.tts_enabled,
			max_students = EXCLUDED.max_students,
			max_scripts = EXCLUDED.max_scripts`,
		p.ID, p.Key, p.Tier, p.Name, p.PriceMonthly.Amount, p.PriceMonthly.Currency,
		p.AIFeedbackEnabled, p.TTSEnabled, p.MaxStudents, p.MaxScripts)
	if err != nil {
		return fmt.Errorf("upsert plan %q: %w", p.ID, err)
	}
	return nil
}
