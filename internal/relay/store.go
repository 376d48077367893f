package relay

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable agent profile store. The routing registry never
// depends on it — profiles, keys, and online-status history are bookkeeping
// around the in-memory routing state, not part of it.
type Store struct {
	db *sql.DB
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

// AgentRow is one durable agent profile.
type AgentRow struct {
	ID          string
	PublicKey   string
	Fingerprint string
	Online      bool
	LastSeen    *time.Time
	CreatedAt   time.Time
}

func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		"CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)",
	); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var done int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", name).Scan(&done)
		if err != nil {
			return err
		}
		if done > 0 {
			continue
		}
		script, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(script)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (name) VALUES (?)", name); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAgent creates or updates a profile. The relay accepts the id as
// presented — no uniqueness dispute is resolved here.
func (s *Store) UpsertAgent(id, publicKey, fingerprint string) error {
	_, err := s.db.Exec(
		`INSERT INTO agents (id, public_key, fingerprint) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET public_key = excluded.public_key, fingerprint = excluded.fingerprint`,
		id, publicKey, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent returns a profile, or nil if none exists.
func (s *Store) GetAgent(id string) (*AgentRow, error) {
	row := s.db.QueryRow(
		"SELECT id, public_key, fingerprint, online, last_seen, created_at FROM agents WHERE id = ?", id,
	)
	var a AgentRow
	err := row.Scan(&a.ID, &a.PublicKey, &a.Fingerprint, &a.Online, &a.LastSeen, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// SearchAgents returns profiles whose id contains q, most recently seen first.
func (s *Store) SearchAgents(q string, limit int) ([]*AgentRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, public_key, fingerprint, online, last_seen, created_at FROM agents
		 WHERE id LIKE ? ORDER BY last_seen DESC NULLS LAST, id LIMIT ?`,
		"%"+q+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search agents: %w", err)
	}
	defer rows.Close()

	var result []*AgentRow
	for rows.Next() {
		var a AgentRow
		if err := rows.Scan(&a.ID, &a.PublicKey, &a.Fingerprint, &a.Online, &a.LastSeen, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

// SetOnline flips the online flag and bumps last_seen. Unknown agents are
// ignored: a live connection does not require a stored profile.
func (s *Store) SetOnline(id string, online bool) error {
	_, err := s.db.Exec(
		"UPDATE agents SET online = ?, last_seen = datetime('now') WHERE id = ?",
		online, id,
	)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// Heartbeat bumps last_seen for a known agent. Errors if the agent has no
// stored profile.
func (s *Store) Heartbeat(id string) error {
	res, err := s.db.Exec("UPDATE agents SET last_seen = datetime('now') WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("unknown agent: %s", id)
	}
	return nil
}

// CountAgents returns (total, online) profile counts.
func (s *Store) CountAgents() (total, online int, err error) {
	err = s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(online), 0) FROM agents").Scan(&total, &online)
	if err != nil {
		return 0, 0, fmt.Errorf("count agents: %w", err)
	}
	return total, online, nil
}
