package dataprofile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps profiles and accumulated insights in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	} else {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			session_id TEXT PRIMARY KEY,
			data_dna TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			insight TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES profiles(session_id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_insights_session ON insights(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the profile for a session. Accumulated insights embedded in
// the profile are stored with it; insights added later live in their own table.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, profile *Profile) error {
	if profile == nil {
		return errors.New("profile is required")
	}
	p := *profile
	p.SessionID = sessionID

	data, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (session_id, data_dna, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data_dna = excluded.data_dna, updated_at = excluded.updated_at
	`, sessionID, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Load returns the profile with every stored insight appended
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Profile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data_dna FROM profiles WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT insight FROM insights WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		var insight Insight
		if err := json.Unmarshal([]byte(data), &insight); err != nil {
			continue
		}
		p.Insights = append(p.Insights, insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read insights: %w", err)
	}

	return &p, nil
}

// AppendInsight records an insight for a stored session
func (s *SQLiteStore) AppendInsight(ctx context.Context, sessionID string, insight Insight) error {
	data, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to encode insight: %w", err)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM profiles WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (session_id, insight, created_at) VALUES (?, ?, ?)`,
		sessionID, string(data), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

// List returns stored session ids, most recently updated first
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM profiles ORDER BY updated_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
