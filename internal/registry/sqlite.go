package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"cartpilot/internal/domain"
)

// SQLiteRegistry implements domain.SessionRegistry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			profile_path TEXT NOT NULL,
			valid        INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			last_used    TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

func (s *SQLiteRegistry) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	row := s.db.QueryRow(
		"SELECT id, profile_path, valid, created_at, last_used FROM sessions WHERE id = ?", id,
	)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewSubSystemError("registry", "registry.Get", domain.ErrNotFound, id)
		}
		return nil, domain.NewDomainError("registry.Get", domain.ErrRegistryStore, err.Error())
	}
	return rec, nil
}

func (s *SQLiteRegistry) Save(_ context.Context, rec domain.SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, profile_path, valid, created_at, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_path = excluded.profile_path,
			valid        = excluded.valid,
			last_used    = excluded.last_used`,
		rec.ID, rec.ProfilePath, boolToInt(rec.Valid),
		rec.CreatedAt.Format(time.RFC3339Nano), rec.LastUsedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("registry.Save", domain.ErrRegistryStore, err.Error())
	}
	return nil
}

func (s *SQLiteRegistry) MarkUsed(_ context.Context, id string) error {
	res, err := s.db.Exec(
		"UPDATE sessions SET last_used = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return domain.NewDomainError("registry.MarkUsed", domain.ErrRegistryStore, err.Error())
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("registry", "registry.MarkUsed", domain.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteRegistry) Invalidate(_ context.Context, id string) error {
	res, err := s.db.Exec("UPDATE sessions SET valid = 0 WHERE id = ?", id)
	if err != nil {
		return domain.NewDomainError("registry.Invalidate", domain.ErrRegistryStore, err.Error())
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("registry", "registry.Invalidate", domain.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteRegistry) Delete(_ context.Context, id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return domain.NewDomainError("registry.Delete", domain.ErrRegistryStore, err.Error())
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("registry", "registry.Delete", domain.ErrNotFound, id)
	}
	return nil
}

// List returns every stored session ordered by creation time. A row that
// cannot be decoded does not fail the listing; it comes back with Malformed
// set so callers can render a placeholder for it.
func (s *SQLiteRegistry) List(_ context.Context) ([]domain.SessionRecord, error) {
	rows, err := s.db.Query("SELECT id, profile_path, valid, created_at, last_used FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, domain.NewDomainError("registry.List", domain.ErrRegistryStore, err.Error())
	}
	defer rows.Close()

	var recs []domain.SessionRecord
	for rows.Next() {
		var id, profile, created, lastUsed sql.NullString
		var valid sql.NullInt64
		if err := rows.Scan(&id, &profile, &valid, &created, &lastUsed); err != nil {
			recs = append(recs, domain.SessionRecord{Malformed: true})
			continue
		}
		rec := domain.SessionRecord{
			ID:          id.String,
			ProfilePath: profile.String,
			Valid:       valid.Int64 != 0,
		}
		createdAt, errCreated := time.Parse(time.RFC3339Nano, created.String)
		lastUsedAt, errUsed := time.Parse(time.RFC3339Nano, lastUsed.String)
		if !id.Valid || id.String == "" || errCreated != nil || errUsed != nil {
			rec.Malformed = true
		} else {
			rec.CreatedAt = createdAt
			rec.LastUsedAt = lastUsedAt
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("registry.List", domain.ErrRegistryStore, err.Error())
	}
	return recs, nil
}

func scanSession(row *sql.Row) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var valid int
	var createdStr, lastUsedStr string
	if err := row.Scan(&rec.ID, &rec.ProfilePath, &valid, &createdStr, &lastUsedStr); err != nil {
		return nil, err
	}
	rec.Valid = valid != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.LastUsedAt, _ = time.Parse(time.RFC3339Nano, lastUsedStr)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
