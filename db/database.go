package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database provides methods for storing and retrieving communities and posts
type Database struct {
	db     *sql.DB
	driver string
	mutex  sync.RWMutex
	log    *logrus.Logger
}

// NewDatabase opens a database connection and creates the tables if needed
func NewDatabase(driver, dsn string, log *logrus.Logger) (*Database, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// a single writer avoids "database is locked" between the two loops
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		driver: driver,
		log:    log,
	}

	if err := database.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.WithField("driver", driver).Info("Database ready")
	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	schema := sqliteSchema
	if d.driver == DriverPostgres {
		schema = postgresSchema
	}

	// lib/pq does not accept several statements with parameters, but plain DDL is fine
	_, err := d.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders into $n for postgres
func (d *Database) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in a transaction, committing when it returns nil
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.log.WithError(rbErr).Error("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// note: schema migrations are owned by the web application; these statements
// only make a fresh database usable by the collector
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS communities (
	vkid INTEGER PRIMARY KEY,
	deactivated BOOLEAN NOT NULL DEFAULT 0,
	type SMALLINT NOT NULL DEFAULT 0,
	verified BOOLEAN,
	age_limit SMALLINT NOT NULL DEFAULT -1,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	followers INTEGER,
	status TEXT NOT NULL DEFAULT '',
	icon50url TEXT NOT NULL DEFAULT '',
	icon100url TEXT NOT NULL DEFAULT '',
	checked_at TIMESTAMP,
	wall_checked_at TIMESTAMP,
	views_per_post REAL,
	likes_per_view REAL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_communities_checked_at ON communities(checked_at);
CREATE INDEX IF NOT EXISTS idx_communities_followers ON communities(followers DESC);

CREATE TABLE IF NOT EXISTS community_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	community_id INTEGER NOT NULL REFERENCES communities(vkid) ON DELETE CASCADE,
	checked_at TIMESTAMP NOT NULL,
	followers INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_community_history_community ON community_history(community_id, checked_at);

CREATE TABLE IF NOT EXISTS posts (
	community_id INTEGER NOT NULL REFERENCES communities(vkid) ON DELETE CASCADE,
	vkid INTEGER NOT NULL,
	checked_at TIMESTAMP NOT NULL,
	published_at TIMESTAMP NOT NULL,
	content TEXT NOT NULL,
	views INTEGER,
	likes INTEGER NOT NULL,
	shares INTEGER NOT NULL,
	comments INTEGER NOT NULL,
	marked_as_ads BOOLEAN NOT NULL,
	links INTEGER NOT NULL,
	PRIMARY KEY (community_id, vkid)
);
CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(community_id, published_at);

CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	api_token TEXT UNIQUE,
	enabled BOOLEAN NOT NULL DEFAULT 1
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS communities (
	vkid BIGINT PRIMARY KEY,
	deactivated BOOLEAN NOT NULL DEFAULT FALSE,
	type SMALLINT NOT NULL DEFAULT 0,
	verified BOOLEAN,
	age_limit SMALLINT NOT NULL DEFAULT -1,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	followers INTEGER,
	status TEXT NOT NULL DEFAULT '',
	icon50url TEXT NOT NULL DEFAULT '',
	icon100url TEXT NOT NULL DEFAULT '',
	checked_at TIMESTAMPTZ,
	wall_checked_at TIMESTAMPTZ,
	views_per_post DOUBLE PRECISION,
	likes_per_view DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_communities_checked_at ON communities(checked_at);
CREATE INDEX IF NOT EXISTS idx_communities_followers ON communities(followers DESC);

CREATE TABLE IF NOT EXISTS community_history (
	id BIGSERIAL PRIMARY KEY,
	community_id BIGINT NOT NULL REFERENCES communities(vkid) ON DELETE CASCADE,
	checked_at TIMESTAMPTZ NOT NULL,
	followers INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_community_history_community ON community_history(community_id, checked_at);

CREATE TABLE IF NOT EXISTS posts (
	community_id BIGINT NOT NULL REFERENCES communities(vkid) ON DELETE CASCADE,
	vkid BIGINT NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	content TEXT NOT NULL,
	views INTEGER,
	likes INTEGER NOT NULL,
	shares INTEGER NOT NULL,
	comments INTEGER NOT NULL,
	marked_as_ads BOOLEAN NOT NULL,
	links INTEGER NOT NULL,
	PRIMARY KEY (community_id, vkid)
);
CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(community_id, published_at);

CREATE TABLE IF NOT EXISTS accounts (
	id SERIAL PRIMARY KEY,
	api_token TEXT UNIQUE,
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);
`
