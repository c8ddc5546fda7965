// Package store persists helmsman's durable state in SQLite: history units
// for long-term memory, per-thread checkpoints for crash recovery, and the
// entity catalog backing resolution.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// ErrNoCheckpoint indicates no checkpoint exists for a thread.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// LocalStore is the SQLite-backed durable store. A single connection with a
// mutex keeps writes serialized; WAL mode keeps readers unblocked.
type LocalStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewLocalStore opens (creating if needed) the database at path and applies
// the schema.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("initializing local store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *LocalStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_units (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		turn_id INTEGER NOT NULL,
		user_input TEXT NOT NULL,
		response TEXT NOT NULL,
		intent TEXT NOT NULL,
		rewritten_question TEXT,
		payload TEXT NOT NULL,
		embedding_text TEXT NOT NULL,
		embedding BLOB,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_history_thread_turn
		ON history_units(thread_id, turn_id);

	CREATE TABLE IF NOT EXISTS thread_checkpoints (
		thread_id TEXT PRIMARY KEY,
		turn_counter INTEGER NOT NULL,
		plan_json TEXT,
		pending_question TEXT,
		pending_task_key TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entity_catalog (
		id TEXT NOT NULL,
		category TEXT NOT NULL,
		name TEXT NOT NULL,
		alias TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		PRIMARY KEY (category, alias, id)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_alias
		ON entity_catalog(category, alias);

	CREATE TABLE IF NOT EXISTS field_catalog (
		category TEXT NOT NULL,
		term TEXT NOT NULL,
		field TEXT NOT NULL,
		PRIMARY KEY (category, term)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveTurnRecord persists one history unit. Records are immutable; a
// duplicate id is a bug and surfaces as a constraint error.
func (s *LocalStore) SaveTurnRecord(ctx context.Context, record *types.TurnRecord) error {
	if record == nil {
		return fmt.Errorf("nil turn record")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal turn record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history_units
			(id, thread_id, turn_id, user_input, response, intent,
			 rewritten_question, payload, embedding_text, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ThreadID, record.TurnID, record.UserInput,
		record.Response, string(record.Intent), record.RewrittenQuestion,
		string(payload), record.EmbeddingText(), record.StartedAt, record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history unit: %w", err)
	}
	logging.StoreDebug("saved history unit %s (thread=%s turn=%d)", record.ID, record.ThreadID, record.TurnID)
	return nil
}

// AttachEmbedding stores the embedding vector for an existing history unit.
func (s *LocalStore) AttachEmbedding(ctx context.Context, recordID string, vector []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE history_units SET embedding = ? WHERE id = ?`, vector, recordID)
	if err != nil {
		return fmt.Errorf("failed to attach embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no history unit with id %s", recordID)
	}
	return nil
}

// HistoryCount returns the number of stored history units for a thread.
func (s *LocalStore) HistoryCount(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_units WHERE thread_id = ?`, threadID).Scan(&n)
	return n, err
}

// Checkpoint is the durable per-thread snapshot between turns.
type Checkpoint struct {
	ThreadID        string
	TurnCounter     int64
	Plan            *types.Plan
	PendingQuestion string
	PendingTaskKey  string
	UpdatedAt       time.Time
}

// SaveCheckpoint upserts the thread snapshot.
func (s *LocalStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	var planJSON sql.NullString
	if cp.Plan != nil {
		data, err := json.Marshal(cp.Plan)
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		planJSON = sql.NullString{String: string(data), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_checkpoints
			(thread_id, turn_counter, plan_json, pending_question, pending_task_key, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(thread_id) DO UPDATE SET
			turn_counter = excluded.turn_counter,
			plan_json = excluded.plan_json,
			pending_question = excluded.pending_question,
			pending_task_key = excluded.pending_task_key,
			updated_at = CURRENT_TIMESTAMP`,
		cp.ThreadID, cp.TurnCounter, planJSON, cp.PendingQuestion, cp.PendingTaskKey,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	logging.StoreDebug("checkpointed thread %s at turn %d", cp.ThreadID, cp.TurnCounter)
	return nil
}

// LoadCheckpoint fetches the snapshot for a thread, ErrNoCheckpoint if absent.
func (s *LocalStore) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &Checkpoint{ThreadID: threadID}
	var planJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT turn_counter, plan_json, pending_question, pending_task_key, updated_at
		FROM thread_checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&cp.TurnCounter, &planJSON, &cp.PendingQuestion, &cp.PendingTaskKey, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if planJSON.Valid {
		var plan types.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpointed plan: %w", err)
		}
		cp.Plan = &plan
	}
	return cp, nil
}

// DeleteCheckpoint removes the thread snapshot.
func (s *LocalStore) DeleteCheckpoint(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_checkpoints WHERE thread_id = ?`, threadID)
	return err
}
