// Package sqlbus ships producer batches into a SQL events table. It
// doubles as a local, immutable record of a run's events: useful for
// offline development with SQLite and for durable sinks on MySQL.
package sqlbus

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/orderout/nightglow/producer"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

type Options struct {
	Logger *slog.Logger
}

// Transport writes each batch in one transaction; the auto-increment id
// preserves append order per (topic, partition_key).
type Transport struct {
	db      *sql.DB
	flavor  string
	options *Options
}

var _ producer.Transport = (*Transport)(nil)

// NewSqlite opens (or creates) a SQLite-backed transport at path.
func NewSqlite(path string, opts *Options) (*Transport, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	return newTransport(db, "sqlite", opts)
}

// NewInMemory returns a SQLite transport backed by a shared in-memory
// database, for tests and dry runs.
func NewInMemory(opts *Options) (*Transport, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	db.SetMaxOpenConns(1)

	return newTransport(db, "sqlite", opts)
}

// NewMysql opens a MySQL-backed transport with the given DSN.
func NewMysql(dsn string, opts *Options) (*Transport, error) {
	db, err := sql.Open("mysql", dsn+"?parseTime=true&multiStatements=true")
	if err != nil {
		return nil, fmt.Errorf("opening mysql database: %w", err)
	}

	return newTransport(db, "mysql", opts)
}

func newTransport(db *sql.DB, flavor string, opts *Options) (*Transport, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Transport{db: db, flavor: flavor, options: opts}
	if err := t.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) applyMigrations() error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+t.flavor)
	if err != nil {
		return fmt.Errorf("locating migrations: %w", err)
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := t.newMigrator(src)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (t *Transport) newMigrator(src source.Driver) (*migrate.Migrate, error) {
	switch t.flavor {
	case "sqlite":
		dbi, err := migratesqlite.WithInstance(t.db, &migratesqlite.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, "sqlite", dbi)
	case "mysql":
		dbi, err := migratemysql.WithInstance(t.db, &migratemysql.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, "mysql", dbi)
	default:
		return nil, fmt.Errorf("unsupported flavor %q", t.flavor)
	}
}

func (t *Transport) SendBatch(ctx context.Context, batch map[string][]*producer.Message) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (topic, partition_key, event_id, event_type, value, headers) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for topic, msgs := range batch {
		for _, msg := range msgs {
			headers, err := json.Marshal(msg.Headers)
			if err != nil {
				return fmt.Errorf("marshaling headers: %w", err)
			}

			var eventID struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(msg.Value, &eventID)

			if _, err := stmt.ExecContext(ctx, topic, msg.Key, eventID.ID,
				msg.Headers["event-type"], msg.Value, string(headers)); err != nil {
				return fmt.Errorf("inserting event: %w", err)
			}
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	t.options.Logger.DebugContext(ctx, "batch recorded", "messages", count, "flavor", t.flavor)

	return nil
}

// EventsBySession returns the raw event payloads recorded for a session
// across all topics, in append order.
func (t *Transport) EventsBySession(ctx context.Context, sessionID string) ([][]byte, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT value FROM events WHERE partition_key = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		values = append(values, value)
	}

	return values, rows.Err()
}

func (t *Transport) Close() error {
	return t.db.Close()
}
