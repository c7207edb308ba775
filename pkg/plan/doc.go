// Package plan holds the plan catalog: the read model of every plan's price,
// feature flags and quotas.
//
// Plans come from a Source (in-memory, YAML file, or the plans table via
// pgstore) and are validated once by NewCatalog. Ordering is always by the
// explicit Tier field, never by key or name.
//
//	catalog, err := plan.NewCatalog(ctx, plan.NewYAMLSource("plans.yaml"))
//	if err != nil {
//		return err
//	}
//	p, err := catalog.Get(ctx, sub.PlanID)
//	enabled, known := p.Feature(plan.FeatureAIFeedback)
//
// The catalog is never mutated at runtime; renewal and entitlement code only
// look plans up by reference.
package plan
