// Package schedule runs periodic jobs inside a long-lived process.
//
// It is the in-process counterpart to an external cron: the billing server
// registers the daily renewal pass here when no outside scheduler is
// configured.
//
//	s := schedule.NewScheduler(schedule.WithLogger(log))
//	_ = s.AddJob("renewal", schedule.DailyAt(3, 0), func(ctx context.Context) error {
//		_, err := engine.Run(ctx)
//		return err
//	})
//	go s.Start(ctx)
//
// Missed occurrences (for example after the host slept) collapse into a
// single run; a job never runs concurrently with itself.
package schedule
