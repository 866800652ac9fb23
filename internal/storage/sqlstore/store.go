// Package sqlstore implements the registry on database/sql for SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

// Config selects and reaches the database
type Config struct {
	Driver          string
	DSN             string
	ConnectAttempts uint
}

// Store implements storage.Registry on database/sql
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	logger *zap.Logger
}

var _ storage.Registry = (*Store)(nil)

// Open connects to the database, retrying the initial ping, and applies the schema
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 5
	}

	var schema []string
	switch cfg.Driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// One writer keeps SQLite free of "database is locked" errors.
		db.SetMaxOpenConns(1)
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectAttempts),
		retry.DelayType(retry.BackOffDelay),
	)
	if err := r.Do(func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logger.Named("sqlstore").Info("registry ready", zap.String("driver", cfg.Driver))

	return &Store{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger: logger.Named("sqlstore"),
	}, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into the driver's syntax
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// translateError maps driver errors onto storage sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const serviceColumns = `id, name, owner_team, environment, version, description, disabled, created_at, updated_at`

func scanService(row scanner) (*slo.Service, error) {
	var svc slo.Service
	var env string
	err := row.Scan(&svc.ID, &svc.Name, &svc.OwnerTeam, &env, &svc.Version, &svc.Description,
		&svc.Disabled, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	svc.Environment = slo.Environment(env)
	return &svc, nil
}

// CreateService inserts svc and sets its ID and timestamps
func (s *Store) CreateService(ctx context.Context, svc *slo.Service) error {
	now := s.now()
	query := s.rebind(`
		INSERT INTO services (name, owner_team, environment, version, description, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		svc.Name, svc.OwnerTeam, string(svc.Environment), svc.Version, svc.Description, svc.Disabled, now, now,
	).Scan(&svc.ID)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", translateError(err))
	}

	svc.CreatedAt = now
	svc.UpdatedAt = now
	return nil
}

// GetService retrieves a service by ID
func (s *Store) GetService(ctx context.Context, id int64) (*slo.Service, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+serviceColumns+` FROM services WHERE id = ?`), id)
	svc, err := scanService(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get service %d: %w", id, translateError(err))
	}
	return svc, nil
}

// FindService retrieves a service by name and environment
func (s *Store) FindService(ctx context.Context, name string, env slo.Environment) (*slo.Service, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+serviceColumns+` FROM services WHERE name = ? AND environment = ?`), name, string(env))
	svc, err := scanService(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find service %s/%s: %w", name, env, translateError(err))
	}
	return svc, nil
}

// ListServices returns services ordered by ID
func (s *Store) ListServices(ctx context.Context, includeDisabled bool) ([]slo.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	args := []interface{}{}
	if !includeDisabled {
		query += ` WHERE disabled = ?`
		args = append(args, false)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := []slo.Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, *svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating services: %w", err)
	}

	return services, nil
}

// UpdateService overwrites the mutable fields of svc
func (s *Store) UpdateService(ctx context.Context, svc *slo.Service) error {
	now := s.now()
	query := s.rebind(`
		UPDATE services
		SET name = ?, owner_team = ?, environment = ?, version = ?, description = ?, updated_at = ?
		WHERE id = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		svc.Name, svc.OwnerTeam, string(svc.Environment), svc.Version, svc.Description, now, svc.ID)
	if err != nil {
		return fmt.Errorf("failed to update service %d: %w", svc.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("failed to update service %d: %w", svc.ID, err)
	}

	svc.UpdatedAt = now
	return nil
}

// SetServiceDisabled soft-deletes or restores a service
func (s *Store) SetServiceDisabled(ctx context.Context, id int64, disabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE services SET disabled = ?, updated_at = ? WHERE id = ?`), disabled, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to disable service %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("failed to disable service %d: %w", id, err)
	}
	return nil
}

const sloColumns = `id, service_id, name, description, sli_type, target, time_window_days, latency_threshold,
	good_query, total_query, fast_burn_threshold, slow_burn_threshold, hard_budget_policy, disabled,
	created_at, updated_at`

func scanSLO(row scanner) (*slo.SLO, error) {
	var o slo.SLO
	var sliType string
	err := row.Scan(&o.ID, &o.ServiceID, &o.Name, &o.Description, &sliType, &o.Target, &o.TimeWindowDays,
		&o.LatencyThreshold, &o.GoodQuery, &o.TotalQuery, &o.FastBurnThreshold, &o.SlowBurnThreshold,
		&o.HardBudgetPolicy, &o.Disabled, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.SLIType = slo.SLIType(sliType)
	return &o, nil
}

// CreateSLO inserts o and sets its ID and timestamps
func (s *Store) CreateSLO(ctx context.Context, o *slo.SLO) error {
	now := s.now()
	query := s.rebind(`
		INSERT INTO slos (service_id, name, description, sli_type, target, time_window_days, latency_threshold,
			good_query, total_query, fast_burn_threshold, slow_burn_threshold, hard_budget_policy, disabled,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		o.ServiceID, o.Name, o.Description, string(o.SLIType), o.Target, o.TimeWindowDays, o.LatencyThreshold,
		o.GoodQuery, o.TotalQuery, o.FastBurnThreshold, o.SlowBurnThreshold, o.HardBudgetPolicy, o.Disabled,
		now, now,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to create slo: %w", translateError(err))
	}

	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

// GetSLO retrieves an SLO by ID
func (s *Store) GetSLO(ctx context.Context, id int64) (*slo.SLO, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sloColumns+` FROM slos WHERE id = ?`), id)
	o, err := scanSLO(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get slo %d: %w", id, translateError(err))
	}
	return o, nil
}

// FindSLO retrieves an SLO by owning service and name
func (s *Store) FindSLO(ctx context.Context, serviceID int64, name string) (*slo.SLO, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+sloColumns+` FROM slos WHERE service_id = ? AND name = ?`), serviceID, name)
	o, err := scanSLO(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find slo %q of service %d: %w", name, serviceID, translateError(err))
	}
	return o, nil
}

// ListSLOs returns the SLOs of a service ordered by ID
func (s *Store) ListSLOs(ctx context.Context, serviceID int64, includeDisabled bool) ([]slo.SLO, error) {
	query := `SELECT ` + sloColumns + ` FROM slos WHERE service_id = ?`
	args := []interface{}{serviceID}
	if !includeDisabled {
		query += ` AND disabled = ?`
		args = append(args, false)
	}
	return s.querySLOs(ctx, query+` ORDER BY id`, args...)
}

// ListAllSLOs returns every SLO ordered by ID
func (s *Store) ListAllSLOs(ctx context.Context, includeDisabled bool) ([]slo.SLO, error) {
	query := `SELECT ` + sloColumns + ` FROM slos`
	args := []interface{}{}
	if !includeDisabled {
		query += ` WHERE disabled = ?`
		args = append(args, false)
	}
	return s.querySLOs(ctx, query+` ORDER BY id`, args...)
}

func (s *Store) querySLOs(ctx context.Context, query string, args ...interface{}) ([]slo.SLO, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slos: %w", err)
	}
	defer rows.Close()

	slos := []slo.SLO{}
	for rows.Next() {
		o, err := scanSLO(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slo: %w", err)
		}
		slos = append(slos, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slos: %w", err)
	}

	return slos, nil
}

// UpdateSLO overwrites the mutable fields of o
func (s *Store) UpdateSLO(ctx context.Context, o *slo.SLO) error {
	now := s.now()
	query := s.rebind(`
		UPDATE slos
		SET name = ?, description = ?, sli_type = ?, target = ?, time_window_days = ?, latency_threshold = ?,
			good_query = ?, total_query = ?, fast_burn_threshold = ?, slow_burn_threshold = ?,
			hard_budget_policy = ?, updated_at = ?
		WHERE id = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		o.Name, o.Description, string(o.SLIType), o.Target, o.TimeWindowDays, o.LatencyThreshold,
		o.GoodQuery, o.TotalQuery, o.FastBurnThreshold, o.SlowBurnThreshold, o.HardBudgetPolicy, now, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update slo %d: %w", o.ID, translateError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("failed to update slo %d: %w", o.ID, err)
	}

	o.UpdatedAt = now
	return nil
}

// SetSLODisabled soft-deletes or restores an SLO
func (s *Store) SetSLODisabled(ctx context.Context, id int64, disabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE slos SET disabled = ?, updated_at = ? WHERE id = ?`), disabled, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to disable slo %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("failed to disable slo %d: %w", id, err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
