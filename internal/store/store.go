// Package store persists room snapshots of evicted rooms so a room that
// comes back later starts from where it was left.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/coderoom/internal/domain"
)

type Store interface {
	Save(ctx context.Context, id domain.RoomID, state domain.RoomState) error
	// Load reports found=false without error when nothing was saved.
	Load(ctx context.Context, id domain.RoomID) (state domain.RoomState, found bool, err error)
	Delete(ctx context.Context, id domain.RoomID) error
	Close() error
}

// snapshot is the persisted form. Version guards future layout changes.
type snapshot struct {
	Version int              `json:"version"`
	RoomID  domain.RoomID    `json:"room_id"`
	SavedAt time.Time        `json:"saved_at"`
	State   domain.RoomState `json:"state"`
}

const snapshotVersion = 1

func encodeSnapshot(id domain.RoomID, state domain.RoomState) ([]byte, error) {
	return json.Marshal(snapshot{
		Version: snapshotVersion,
		RoomID:  id,
		SavedAt: time.Now().UTC(),
		State:   state,
	})
}

func decodeSnapshot(data []byte) (domain.RoomState, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.RoomState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return domain.RoomState{}, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if s.State.Canvas == nil {
		s.State.Canvas = []domain.CanvasElement{}
	}
	if err := s.State.Language.Validate(); err != nil {
		s.State.Language = domain.LanguageJava
	}
	return s.State, nil
}
