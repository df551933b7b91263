package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ticks (
	idx               INTEGER PRIMARY KEY,
	render            TEXT NOT NULL,
	action            TEXT NOT NULL,
	reward            REAL NOT NULL,
	plan              TEXT NOT NULL,
	model2_prompt     TEXT NOT NULL,
	model2_response   TEXT NOT NULL,
	model2_token_num  INTEGER NOT NULL,
	model1_prompt     TEXT NOT NULL,
	model1_response   TEXT NOT NULL,
	model1_token_num  INTEGER NOT NULL
);
`

// SQLiteStore writes one row per tick, so appends do not rewrite the log.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates the log directory on fs. The database itself is always
// opened by the driver on the host filesystem.
func OpenSQLite(ctx context.Context, fs Fs, path string) (*SQLiteStore, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("opening log db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, idx int, r Record) error {
	_, err := db.ExecContext(ctx, `INSERT INTO ticks
		(idx, render, action, reward, plan,
		 model2_prompt, model2_response, model2_token_num,
		 model1_prompt, model1_response, model1_token_num)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idx, r.Render, r.Action, r.Reward, r.Plan,
		r.SlowPrompt, r.SlowResponse, r.SlowUnits,
		r.FastPrompt, r.FastResponse, r.FastUnits,
	)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	var next int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(idx) + 1, 0) FROM ticks").Scan(&next); err != nil {
		return err
	}
	return insert(ctx, s.db, next, r)
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		render, action, reward, plan,
		model2_prompt, model2_response, model2_token_num,
		model1_prompt, model1_response, model1_token_num
		FROM ticks ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Render, &r.Action, &r.Reward, &r.Plan,
			&r.SlowPrompt, &r.SlowResponse, &r.SlowUnits,
			&r.FastPrompt, &r.FastResponse, &r.FastUnits); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Replace(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM ticks"); err != nil {
		return err
	}
	for i, r := range records {
		if err := insert(ctx, tx, i, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ Store = (*SQLiteStore)(nil)
