// Package logger builds *slog.Logger instances and provides attribute helpers
// so billing components log the same keys (organization_id, subscription_id,
// plan_key) everywhere.
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "billing"),
//	    logger.WithContextExtractors(api.RequestIDExtractor()),
//	)
//	log.InfoContext(ctx, "subscription renewed",
//	    logger.SubscriptionID(sub.ID),
//	    logger.PlanKey(p.Key),
//	)
package logger
