package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names accepted in configuration.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
	DriverRedis     = "redis"
)

// dialect captures what differs between the supported SQL engines.
type dialect struct {
	name       string
	sqlDriver  string // name registered with database/sql
	migrations []string
	unique     func(error) bool
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return dialect{
			name:       DriverSQLite,
			sqlDriver:  "sqlite",
			migrations: sqliteMigrations,
			unique:     sqliteUnique,
		}, nil
	case DriverPostgres, "postgresql", "pgx":
		return dialect{
			name:       DriverPostgres,
			sqlDriver:  "pgx",
			migrations: postgresMigrations,
			unique:     postgresUnique,
		}, nil
	case DriverMySQL, "mariadb":
		return dialect{
			name:       DriverMySQL,
			sqlDriver:  "mysql",
			migrations: mysqlMigrations,
			unique:     mysqlUnique,
		}, nil
	case DriverSQLServer, "mssql":
		return dialect{
			name:       DriverSQLServer,
			sqlDriver:  "sqlserver",
			migrations: sqlserverMigrations,
			unique:     sqlserverUnique,
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// sqliteDSN builds the DSN for the embedded database. An empty dataDir
// means an in-memory database.
func sqliteDSN(dsn, dataDir string) (string, error) {
	if dsn != "" {
		return dsn, nil
	}
	if dataDir == "" {
		return ":memory:?_pragma=journal_mode(WAL)", nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dataDir, "keymint.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
}

// mysqlDSN forces the options the store relies on: DATETIME columns scan
// into time.Time and are interpreted as UTC.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func sqliteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func postgresUnique(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == "23505"
}

func mysqlUnique(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func sqlserverUnique(err error) bool {
	var se mssql.Error
	return errors.As(err, &se) && (se.Number == 2627 || se.Number == 2601)
}
