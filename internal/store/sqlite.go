package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkeye/coderoom/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("module", "store.sqlite").Str("path", dbPath).Msg("database initialized")
	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, id domain.RoomID, state domain.RoomState) error {
	data, err := encodeSnapshot(id, state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, snapshot_data)
		VALUES (?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			updated_at = CURRENT_TIMESTAMP
	`, string(id), data)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id domain.RoomID) (domain.RoomState, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = ?", string(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomState{}, false, nil
	}
	if err != nil {
		return domain.RoomState{}, false, err
	}
	state, err := decodeSnapshot(data)
	if err != nil {
		return domain.RoomState{}, false, err
	}
	return state, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM room_snapshots WHERE room_id = ?", string(id))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
