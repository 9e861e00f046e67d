// Package sqlstore implements the engine's Store port on database/sql.
// Three drivers are supported: pgx (postgres), go-sql-driver (mysql)
// and modernc (sqlite). Queries are written once with ? placeholders
// and rebound per dialect.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	leagueauth "github.com/openleague/leagueauth"
)

// Dialect selects placeholder style and the few type names that differ
// across the supported engines.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// DialectForDriver maps a database/sql driver name onto a Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

var _ leagueauth.Store = (*Store)(nil)

// Store wraps one *sql.DB. It is safe for concurrent use; all state
// lives in the database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open dials the database and verifies the connection. MySQL DSNs must
// set parseTime=true so timestamp columns scan into time.Time.
func Open(driver, dsn string) (*Store, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing handle the caller configured and owns.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

func (s *Store) Organizations() leagueauth.OrganizationStore { return &orgStore{s} }
func (s *Store) Users() leagueauth.UserStore                 { return &userStore{s} }
func (s *Store) Permissions() leagueauth.PermissionStore     { return &permStore{s} }
func (s *Store) Audit() leagueauth.AuditStore                { return &auditStore{s} }

// rebind rewrites ? placeholders to $N for postgres. The other two
// dialects take ? natively. Queries here never contain a literal
// question mark, so a plain scan is enough.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// isDuplicate recognizes uniqueness violations across all three
// drivers without importing driver-specific error types.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return leagueauth.ErrNotFound
	}
	if isDuplicate(err) {
		return leagueauth.ErrDuplicate
	}
	return err
}

// nullStr maps "" onto NULL so unique indexes on optional columns
// (custom_domain, reset_token_hash) never collide on the empty value.
func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}
