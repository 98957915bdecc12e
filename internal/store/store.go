package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pavelanni/examdesk/internal/model"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type Store struct {
	db      *sql.DB
	dialect dialect
}

// New opens the store at storeURL. postgres:// and postgresql:// URLs use
// pgx; anything else is treated as a SQLite path, with an optional sqlite://
// prefix. credential ("user:password") replaces the URL's userinfo for
// PostgreSQL and is ignored for SQLite.
func New(storeURL, credential string) (*Store, error) {
	if IsPostgres(storeURL) {
		return openPostgres(storeURL, credential)
	}
	return openSQLite(strings.TrimPrefix(storeURL, "sqlite://"))
}

// IsPostgres reports whether storeURL points at a PostgreSQL server.
func IsPostgres(storeURL string) bool {
	return strings.HasPrefix(storeURL, "postgres://") || strings.HasPrefix(storeURL, "postgresql://")
}

func openSQLite(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, dialect: dialectSQLite}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func openPostgres(storeURL, credential string) (*Store, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if credential != "" {
		user, pass, ok := strings.Cut(credential, ":")
		if ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, dialect: dialectPostgres}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		grade TEXT NOT NULL,
		variant TEXT NOT NULL,
		sections_public TEXT NOT NULL,
		answer_key TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS exams_grade_variant ON exams (grade, variant, active);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL,
		grade TEXT NOT NULL,
		variant TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		submitted_at DATETIME,
		duration_sec INTEGER,
		score INTEGER,
		total INTEGER,
		answers_mcq TEXT,
		answers_match TEXT,
		meta TEXT
	);

	CREATE INDEX IF NOT EXISTS attempts_started_at ON attempts (started_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS admin_sessions (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		grade TEXT NOT NULL,
		variant TEXT NOT NULL,
		sections_public JSONB NOT NULL,
		answer_key JSONB NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS exams_grade_variant ON exams (grade, variant, active);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL,
		grade TEXT NOT NULL,
		variant TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ,
		duration_sec INTEGER,
		score INTEGER,
		total INTEGER,
		answers_mcq JSONB,
		answers_match JSONB,
		meta JSONB
	);

	CREATE INDEX IF NOT EXISTS attempts_started_at ON attempts (started_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS admin_sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	`

func (s *Store) migrate() error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	if err != nil && s.dialect == dialectPostgres && isPermissionDenied(err) {
		// restricted credentials may lack DDL rights; the service credential owns migrations
		return nil
	}
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Classify turns a driver error into a configuration error when it points at
// a setup problem (missing tables, missing grants, unreachable server).
// Other errors are returned as persistence errors.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501":
			return model.Configuration("StorePermissionDenied",
				"store permission denied: check the grants of the configured credential", err)
		case "42P01":
			return model.Configuration("StoreSchemaMissing",
				"store tables are missing: start the server once with the service credential to run migrations", err)
		case "28P01", "28000":
			return model.Configuration("StoreAuthFailed",
				"store rejected the credential: check store-public-credential and store-service-credential", err)
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.Configuration("StoreUnreachable", "store is unreachable: check store-url", err)
	}
	if strings.Contains(err.Error(), "no such table") {
		return model.Configuration("StoreSchemaMissing", "store tables are missing: run migrations", err)
	}
	return model.Persistence(op, err)
}

func isPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
