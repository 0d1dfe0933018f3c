package database

import (
	"context"
	"fmt"

	"shotgun-exporter/config"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	ticket_id TEXT PRIMARY KEY,
	order_id TEXT,
	product_id TEXT,
	event_id TEXT NOT NULL,
	event_name TEXT,
	ticket_title TEXT,
	ticket_status TEXT,
	ticket_price REAL,
	channel TEXT,
	buyer_country TEXT,
	buyer_city TEXT,
	ordered_at TEXT,
	ticket_redeemed_at TEXT,
	cancelled_at TEXT,
	ticket_data TEXT,
	first_seen_at TEXT NOT NULL,
	last_updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_status_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id TEXT NOT NULL,
	old_status TEXT,
	new_status TEXT NOT NULL,
	changed_at TEXT NOT NULL,
	FOREIGN KEY (ticket_id) REFERENCES tickets (ticket_id)
);

CREATE TABLE IF NOT EXISTS exporter_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_event_id ON tickets(event_id);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(ticket_status);
CREATE INDEX IF NOT EXISTS idx_status_changes_ticket ON ticket_status_changes(ticket_id);
`

// InitDatabase opens the SQLite file and bootstraps the schema. Every
// connection in the pool runs in WAL mode with a busy timeout so the
// metrics handler can read while a poll cycle writes.
func InitDatabase(cfg *config.DatabaseConfig) (*sqlitex.Pool, error) {
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("database: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}

	// Force the first connection through PrepareConn so a broken path or
	// schema fails at startup, not on the first poll.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}
	pool.Put(conn)

	return pool, nil
}
