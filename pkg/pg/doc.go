// Package pg wraps the pgx/v5 driver with the pieces the billing store needs:
// a retrying pool constructor, goose migrations from an embedded filesystem,
// a transaction helper and small error classifiers.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil { ... }
//
// WithTx commits when the callback returns nil and rolls back otherwise:
//
//	err := pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, `UPDATE ...`)
//	    return err
//	})
package pg
