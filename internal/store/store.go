// Package store persists rules, notify templates, alert history and runtime
// settings in a relational database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/knadh/goyesql/v2"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mr-karan/promalert/internal/config"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

//go:embed queries.sql
var queriesSQL []byte

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a rule changed since it was read.
	ErrVersionConflict = errors.New("rule version conflict")
	// ErrInvalidState is returned when an override does not apply to the
	// rule's current state.
	ErrInvalidState = errors.New("invalid rule state for operation")
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DB provides access to the store. With SQLite, reads and writes use
// separate pools so WAL readers never queue behind the single writer.
type DB struct {
	readDB  *sqlx.DB
	writeDB *sqlx.DB
	driver  string
	queries map[string]string
	log     *slog.Logger
}

// Options holds configuration for creating a new DB instance.
type Options struct {
	Logger *slog.Logger
	Config config.StoreConfig
}

// New connects to the configured database, runs migrations and loads the
// named queries.
func New(opts Options) (*DB, error) {
	log := opts.Logger.With("component", "store")

	driver := opts.Config.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	queries, err := loadQueries(driver)
	if err != nil {
		return nil, err
	}

	var readDB, writeDB *sqlx.DB
	switch driver {
	case DriverSQLite:
		readDB, writeDB, err = openSQLite(opts.Config, log)
	case DriverMySQL:
		var dsn string
		dsn, err = mysqlDSN(opts.Config.DSN)
		if err == nil {
			readDB, err = openPool(driver, dsn, opts.Config)
			writeDB = readDB
		}
	case DriverPostgres:
		readDB, err = openPool(driver, opts.Config.DSN, opts.Config)
		writeDB = readDB
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{
		readDB:  readDB,
		writeDB: writeDB,
		driver:  driver,
		queries: queries,
		log:     log,
	}

	if driver != DriverSQLite {
		if err := runMigrations(writeDB.DB, driver, log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error running migrations: %w", err)
		}
	}

	log.Debug("store initialized", "driver", driver)
	return db, nil
}

func openSQLite(cfg config.StoreConfig, log *slog.Logger) (*sqlx.DB, *sqlx.DB, error) {
	path := cfg.DSN
	if path == "" {
		return nil, nil, fmt.Errorf("sqlite path is required")
	}

	// Run migrations first using a temporary connection.
	if err := setupAndRunSQLiteMigrations(path, cfg.BusyTimeout, log); err != nil {
		return nil, nil, err
	}

	readDB, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(25)
	readDB.SetMaxIdleConns(10)
	readDB.SetConnMaxLifetime(30 * time.Minute)
	readDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := setPragmas(readDB.DB, cfg.BusyTimeout); err != nil {
		readDB.Close()
		return nil, nil, fmt.Errorf("error setting pragmas on read database: %w", err)
	}

	// Acquire the write lock at BEGIN to avoid upgrade deadlocks.
	writeDB, err := sqlx.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		readDB.Close()
		return nil, nil, fmt.Errorf("error opening write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	if err := setPragmas(writeDB.DB, cfg.BusyTimeout); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, nil, fmt.Errorf("error setting pragmas on write database: %w", err)
	}

	log.Debug("sqlite initialized with read/write separation", "path", path)
	return readDB, writeDB, nil
}

func openPool(driver, dsn string, cfg config.StoreConfig) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is required", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening %s database: %w", driver, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// mysqlDSN enables the options the store relies on: parsed time columns,
// multi-statement migrations and matched-row counts for updates.
func mysqlDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("mysql dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func setupAndRunSQLiteMigrations(path string, busyTimeout time.Duration, log *slog.Logger) error {
	migrationDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("error opening migration database: %w", err)
	}
	defer func() {
		_ = migrationDB.Close()
	}()

	if _, err := migrationDB.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis(busyTimeout))); err != nil {
		return fmt.Errorf("error setting busy_timeout on migration database: %w", err)
	}

	if err := runMigrations(migrationDB, DriverSQLite, log); err != nil {
		log.Error("migration failed", "error", err, "path", path)
		return fmt.Errorf("error running migrations: %w", err)
	}
	return nil
}

func busyTimeoutMillis(d time.Duration) int64 {
	if d <= 0 {
		return 5000
	}
	return d.Milliseconds()
}

func setPragmas(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis(busyTimeout)),
		"PRAGMA journal_mode = WAL",
		"PRAGMA journal_size_limit = 5000000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -16000",
		"PRAGMA mmap_size = 0", // mmap misbehaves with modernc.org/sqlite.
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("error setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// runMigrations applies the embedded migrations for driver.
func runMigrations(db *sql.DB, driver string, log *slog.Logger) error {
	migrationFS, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("error creating migrations filesystem: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("error creating migration source driver: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: "schema_migrations"})
	case DriverMySQL:
		dbDriver, err = migratemysql.WithInstance(db, &migratemysql.Config{MigrationsTable: "schema_migrations"})
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("error creating %s migration driver: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("error creating migrate instance: %w", err)
	}

	currentVersion, dirty, err := m.Version()
	switch {
	case err != nil && !errors.Is(err, migrate.ErrNilVersion):
		log.Error("failed to get current migration version", "error", err)
	case errors.Is(err, migrate.ErrNilVersion):
		log.Debug("no previous migrations found")
	default:
		log.Debug("current migration version", "version", currentVersion, "dirty", dirty)
		if dirty {
			log.Warn("database is in a dirty migration state, manual intervention may be required")
		}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("migrations up to date")
			return nil
		}
		return fmt.Errorf("error applying migrations: %w", err)
	}

	if v, dirty, err := m.Version(); err == nil {
		log.Debug("migrations applied", "new_version", v, "dirty", dirty)
	}
	return nil
}

var requiredQueries = []string{
	"list-enabled-rules", "get-rule", "get-rule-by-name", "insert-rule",
	"update-rule-definition", "update-rule-state",
	"get-template", "get-template-by-hash", "list-templates", "insert-template",
	"insert-history", "get-history", "list-history",
	"latest-unacknowledged-history", "latest-open-history",
	"acknowledge-history", "resolve-history",
	"get-setting", "update-setting", "insert-setting", "delete-setting",
}

// loadQueries parses queries.sql and rebinds placeholders for driver.
func loadQueries(driver string) (map[string]string, error) {
	parsed, err := goyesql.ParseBytes(queriesSQL)
	if err != nil {
		return nil, fmt.Errorf("error parsing queries: %w", err)
	}

	bind := sqlx.BindType(driver)
	out := make(map[string]string, len(parsed))
	for name, q := range parsed {
		stmt := strings.TrimSuffix(strings.TrimSpace(q.Query), ";")
		out[name] = sqlx.Rebind(bind, stmt)
	}

	for _, name := range requiredQueries {
		if _, ok := out[name]; !ok {
			return nil, fmt.Errorf("query %q missing from queries.sql", name)
		}
	}
	return out, nil
}

// query returns the named statement. Names are checked by loadQueries.
func (db *DB) query(name string) string {
	return db.queries[name]
}

// insert runs an INSERT and returns the new row id.
func (db *DB) insert(ctx context.Context, ext sqlx.ExtContext, name string, args ...any) (int64, error) {
	if db.driver == DriverPostgres {
		var id int64
		if err := ext.QueryRowxContext(ctx, db.query(name)+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := ext.ExecContext(ctx, db.query(name), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// withTx runs fn inside a write transaction.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the write connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.writeDB.PingContext(ctx)
}

// Driver returns the configured database driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Close shuts down the database connections.
func (db *DB) Close() error {
	db.log.Debug("closing database connections")
	var errs []error
	if err := db.writeDB.Close(); err != nil {
		errs = append(errs, err)
	}
	if db.readDB != db.writeDB {
		if err := db.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
