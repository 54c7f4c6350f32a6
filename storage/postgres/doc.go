// Package postgres stores clients, tokens, codes and approvals in
// PostgreSQL through pgx.
//
// Compound operations run in a transaction that locks the guarded row with
// SELECT ... FOR UPDATE, so concurrent redemptions of one code or rotations
// of one refresh token are serialized by the database. Token and code rows
// are keyed by storage.HashTokenID.
//
//	pool, err := postgres.Connect(ctx, dsn)
//	if err != nil {
//		return err
//	}
//	store := postgres.New(pool)
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
package postgres
