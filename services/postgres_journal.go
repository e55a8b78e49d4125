package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresJournal implements Journal with PostgreSQL persistence.
type PostgresJournal struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresJournal connects and creates the schema if needed.
func NewPostgresJournal(config *PostgresConfig) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	journal := &PostgresJournal{db: db}
	if err := journal.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return journal, nil
}

func (j *PostgresJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mix_sessions (
		id VARCHAR(64) PRIMARY KEY,
		state VARCHAR(16) NOT NULL,
		origin VARCHAR(128) NOT NULL,
		destination VARCHAR(128) NOT NULL,
		live_accounts INTEGER NOT NULL DEFAULT 0,
		record JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_mix_sessions_state ON mix_sessions(state);
	CREATE INDEX IF NOT EXISTS idx_mix_sessions_created ON mix_sessions(created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Create inserts a new session record.
func (j *PostgresJournal) Create(ctx context.Context, rec *SessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	query := `
	INSERT INTO mix_sessions
		(id, state, origin, destination, live_accounts, record, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (id) DO NOTHING
	`

	res, err := j.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.State),
		string(rec.Params.Origin),
		string(rec.Params.Destination),
		len(rec.LiveAccounts),
		body,
		rec.CreatedAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, rec.ID)
	}
	return nil
}

// Save upserts a session record.
func (j *PostgresJournal) Save(ctx context.Context, rec *SessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	query := `
	INSERT INTO mix_sessions
		(id, state, origin, destination, live_accounts, record, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		live_accounts = EXCLUDED.live_accounts,
		record = EXCLUDED.record,
		updated_at = NOW()
	`

	_, err = j.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.State),
		string(rec.Params.Origin),
		string(rec.Params.Destination),
		len(rec.LiveAccounts),
		body,
		rec.CreatedAt,
	)
	return err
}

// Get loads one record.
func (j *PostgresJournal) Get(ctx context.Context, id string) (*SessionRecord, error) {
	var body []byte
	err := j.db.QueryRowContext(ctx, "SELECT record FROM mix_sessions WHERE id = $1", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec SessionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &rec, nil
}

// List loads all records, oldest first.
func (j *PostgresJournal) List(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT id, record FROM mix_sessions ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		var rec SessionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", id, err)
		}
		out = append(out, &rec)
	}

	return out, rows.Err()
}

// Close closes the database connection.
func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
