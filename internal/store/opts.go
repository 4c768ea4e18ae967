package store

// Opts holds configuration options for database-backed stores.
type Opts struct {
	DSN string
}

// Option configures a database-backed store.
type Option func(*Opts)

// WithDSN sets the database connection string (a file path for SQLite, a
// connection URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
