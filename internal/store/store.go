// Package store provides durable persistence for user credentials and chat
// history, backed by PostgreSQL. It owns schema migrations and exposes a
// minimal API consumed by internal/auth and internal/chat.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered, idempotent strings (CREATE ... IF NOT EXISTS). Every statement
// is executed in order on each Open; no table records which ones have
// already run. To add a migration, append a new idempotent string —
// never edit or reorder existing entries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/protocol"
)

const historyLimit = 50

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id        SERIAL PRIMARY KEY,
		sender    TEXT NOT NULL,
		content   TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
}

// Store is the capability surface consumed by internal/auth and
// internal/chat. It is an interface so those packages can be unit tested
// against an in-memory Fake instead of a live Postgres instance.
type Store interface {
	CreateUser(ctx context.Context, username, password string) error
	Verify(ctx context.Context, username, password string) (bool, error)
	SaveMessage(ctx context.Context, p protocol.ChatPacket) error
	RecentBefore(ctx context.Context, beforeTS int64, limit int) ([]protocol.ChatPacket, error)
}

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to postgresURL with a small bounded pool (max 5, per
// spec §5) and applies pending migrations.
func Open(ctx context.Context, postgresURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(postgresURL)
	if err != nil {
		return nil, chaterr.New(chaterr.KindDatabase, "parse postgres url", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, chaterr.New(chaterr.KindDatabase, "connect", err)
	}

	s := &Postgres{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.L().Info("postgres store opened")
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return chaterr.New(chaterr.KindDatabase, fmt.Sprintf("migration %d", i+1), err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// CreateUser hashes password and inserts the row, doing nothing on a
// username conflict (another concurrent register_and_login won first).
func (s *Postgres) CreateUser(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return chaterr.New(chaterr.KindInvalidCredentials, "hash password", err)
	}
	const q = `INSERT INTO users (username, password_hash) VALUES ($1, $2)
	           ON CONFLICT (username) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, username, hash); err != nil {
		return chaterr.New(chaterr.KindDatabase, "create user", err)
	}
	return nil
}

// Verify fetches the stored hash for username and checks it against
// password in constant time. A missing user is reported as a non-match,
// not an error.
func (s *Postgres) Verify(ctx context.Context, username, password string) (bool, error) {
	const q = `SELECT password_hash FROM users WHERE username = $1`
	var hash string
	if err := s.pool.QueryRow(ctx, q, username).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, chaterr.New(chaterr.KindDatabase, "verify user", err)
	}
	return verifyPassword(password, hash), nil
}

// SaveMessage inserts one message row.
func (s *Postgres) SaveMessage(ctx context.Context, p protocol.ChatPacket) error {
	const q = `INSERT INTO messages (sender, content, timestamp) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, p.Sender, p.Content, p.Timestamp); err != nil {
		return chaterr.New(chaterr.KindDatabase, "save message", err)
	}
	return nil
}

// RecentBefore returns up to limit (capped at historyLimit) messages with
// timestamp < beforeTS, ascending by timestamp — the 50 newest below the
// cursor, oldest first.
func (s *Postgres) RecentBefore(ctx context.Context, beforeTS int64, limit int) ([]protocol.ChatPacket, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	const q = `SELECT sender, content, timestamp FROM messages
	           WHERE timestamp < $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, beforeTS, limit)
	if err != nil {
		return nil, chaterr.New(chaterr.KindDatabase, "recent before", err)
	}
	defer rows.Close()

	var packets []protocol.ChatPacket
	for rows.Next() {
		var p protocol.ChatPacket
		if err := rows.Scan(&p.Sender, &p.Content, &p.Timestamp); err != nil {
			return nil, chaterr.New(chaterr.KindDatabase, "scan message", err)
		}
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.New(chaterr.KindDatabase, "iterate messages", err)
	}

	for i, j := 0, len(packets)-1; i < j; i, j = i+1, j-1 {
		packets[i], packets[j] = packets[j], packets[i]
	}
	return packets, nil
}
