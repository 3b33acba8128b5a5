package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const recordColumns = `id, time_spec, user, command, text, action, channel, session, participants, posting_mode, payload_args, completed, error_detail`

func (s *sqliteStore) Insert(ctx context.Context, rec Record) (int64, error) {
	if err := validate(rec); err != nil {
		return 0, err
	}
	args, err := marshalArgs(rec.PayloadArgs)
	if err != nil {
		return 0, fmt.Errorf("%w: payload args: %v", ErrValidation, err)
	}
	mode := rec.PostingMode
	if mode == "" {
		mode = PostingBot
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(time_spec, user, command, text, action, channel, session, participants, posting_mode, payload_args, completed, error_detail)
		 VALUES(?,?,?,?,?,?,?,?,?,?,NULL,'')`,
		rec.TimeSpec, rec.User, rec.Command, rec.Text, rec.Action, rec.Channel, rec.Session,
		canonicalParticipants(rec.Participants), mode, args,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) FindByID(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec, err
}

func (s *sqliteStore) Where(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if f.Pending {
		conds = append(conds, "completed IS NULL")
	}
	if f.User != "" {
		conds = append(conds, "user = ?")
		args = append(args, f.User)
	}
	if f.Command != "" {
		conds = append(conds, "command = ?")
		args = append(args, f.Command)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.Participants != nil {
		conds = append(conds, "participants = ?")
		args = append(args, canonicalParticipants(f.Participants))
	}
	if f.PostingMode != "" {
		conds = append(conds, "posting_mode = ?")
		args = append(args, f.PostingMode)
	}

	q := `SELECT ` + recordColumns + ` FROM jobs`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Patch(ctx context.Context, id int64, p Patch) error {
	var (
		sets []string
		args []any
	)
	if p.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *p.Completed)
	}
	if p.ErrorDetail != nil {
		sets = append(sets, "error_detail = ?")
		args = append(args, *p.ErrorDetail)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec          Record
		participants string
		payload      string
		completed    sql.NullBool
	)
	err := row.Scan(
		&rec.ID, &rec.TimeSpec, &rec.User, &rec.Command, &rec.Text, &rec.Action,
		&rec.Channel, &rec.Session, &participants, &rec.PostingMode, &payload, &completed, &rec.ErrorDetail,
	)
	if err != nil {
		return Record{}, err
	}
	if completed.Valid {
		v := completed.Bool
		rec.Completed = &v
	}
	if participants != "" {
		if err := json.Unmarshal([]byte(participants), &rec.Participants); err != nil {
			return Record{}, fmt.Errorf("storage: corrupt participants for id %d: %w", rec.ID, err)
		}
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rec.PayloadArgs); err != nil {
			return Record{}, fmt.Errorf("storage: corrupt payload args for id %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}
