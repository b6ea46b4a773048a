package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
)

const schema = `CREATE TABLE IF NOT EXISTS decision_logs (
	id              TEXT PRIMARY KEY,
	task            TEXT NOT NULL,
	candidate_ids   TEXT NOT NULL,
	vectors         TEXT NOT NULL,
	recommended_id  TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 0,
	model_version   TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	selected_id     TEXT,
	reward          REAL,
	outcome_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_decision_logs_created_at ON decision_logs(created_at);`

// SQLiteLog stores decisions in a decision_logs table. Task, candidate
// ids and vectors are JSON columns.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLiteLog opens (creating if needed) the database at path.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("decision log path is required")
	}
	db, err := checkpoint.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create decision_logs table: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

func (s *SQLiteLog) Record(ctx context.Context, d Decision) error {
	task, err := json.Marshal(d.Task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ids, err := json.Marshal(nonNil(d.CandidateIDs))
	if err != nil {
		return fmt.Errorf("encode candidate ids: %w", err)
	}
	vectors, err := json.Marshal(nonNil(d.Vectors))
	if err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_logs
		 (id, task, candidate_ids, vectors, recommended_id, confidence, model_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		d.ID, string(task), string(ids), string(vectors),
		d.RecommendedID, d.Confidence, d.ModelVersion, d.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.ID)
	}
	return nil
}

func (s *SQLiteLog) Get(ctx context.Context, id string) (Decision, error) {
	var (
		d                  Decision
		task, ids, vectors string
		createdAt          int64
		selected           sql.NullString
		reward             sql.NullFloat64
		outcomeAt          sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task, candidate_ids, vectors, recommended_id, confidence, model_version,
		        created_at, selected_id, reward, outcome_at
		 FROM decision_logs WHERE id = ?`, id,
	).Scan(&d.ID, &task, &ids, &vectors, &d.RecommendedID, &d.Confidence, &d.ModelVersion,
		&createdAt, &selected, &reward, &outcomeAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("query decision: %w", err)
	}

	if err := json.Unmarshal([]byte(task), &d.Task); err != nil {
		return Decision{}, fmt.Errorf("decode task: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &d.CandidateIDs); err != nil {
		return Decision{}, fmt.Errorf("decode candidate ids: %w", err)
	}
	if err := json.Unmarshal([]byte(vectors), &d.Vectors); err != nil {
		return Decision{}, fmt.Errorf("decode vectors: %w", err)
	}
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	if selected.Valid {
		d.Outcome = &Outcome{
			SelectedID: selected.String,
			Reward:     reward.Float64,
			RecordedAt: time.Unix(0, outcomeAt.Int64).UTC(),
		}
	}
	return d, nil
}

func (s *SQLiteLog) RecordOutcome(ctx context.Context, id string, o Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decision_logs SET selected_id = ?, reward = ?, outcome_at = ?
		 WHERE id = ? AND selected_id IS NULL`,
		o.SelectedID, o.Reward, o.RecordedAt.UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update decision outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update decision outcome: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing row from one that already has feedback.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM decision_logs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("query decision: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrOutcomeRecorded, id)
}

func (s *SQLiteLog) ClearOutcome(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decision_logs SET selected_id = NULL, reward = NULL, outcome_at = NULL
		 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear decision outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear decision outcome: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteLog) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
