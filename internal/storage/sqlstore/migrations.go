package sqlstore

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		owner_team TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		disabled BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (name, environment)
	)`,
	`CREATE TABLE IF NOT EXISTS slos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id INTEGER NOT NULL REFERENCES services(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sli_type TEXT NOT NULL,
		target REAL NOT NULL,
		time_window_days INTEGER NOT NULL,
		latency_threshold REAL NOT NULL DEFAULT 0,
		good_query TEXT NOT NULL DEFAULT '',
		total_query TEXT NOT NULL DEFAULT '',
		fast_burn_threshold REAL NOT NULL,
		slow_burn_threshold REAL NOT NULL,
		hard_budget_policy BOOLEAN NOT NULL DEFAULT 0,
		disabled BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (service_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slos_service_id ON slos(service_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		owner_team TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (name, environment)
	)`,
	`CREATE TABLE IF NOT EXISTS slos (
		id BIGSERIAL PRIMARY KEY,
		service_id BIGINT NOT NULL REFERENCES services(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sli_type TEXT NOT NULL,
		target DOUBLE PRECISION NOT NULL,
		time_window_days INTEGER NOT NULL,
		latency_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
		good_query TEXT NOT NULL DEFAULT '',
		total_query TEXT NOT NULL DEFAULT '',
		fast_burn_threshold DOUBLE PRECISION NOT NULL,
		slow_burn_threshold DOUBLE PRECISION NOT NULL,
		hard_budget_policy BOOLEAN NOT NULL DEFAULT FALSE,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (service_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slos_service_id ON slos(service_id)`,
}
