package app

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/dkeye/coderoom/internal/store"
	"github.com/rs/zerolog/log"
)

const storeTimeout = 5 * time.Second

// RoomManagerImpl is the session registry. The map lock only guards the
// map; store I/O runs without it. While a room id is being restored or
// saved it is marked busy and GetOrCreate for that id waits, so a rejoin
// after eviction always sees the saved state and other rooms never wait.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
	busy  map[domain.RoomID]chan struct{}

	store   store.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

type ManagerOption func(*RoomManagerImpl)

// WithStore restores rooms from st on creation and saves them on eviction.
func WithStore(st store.Store) ManagerOption {
	return func(f *RoomManagerImpl) { f.store = st }
}

func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(f *RoomManagerImpl) { f.metrics = m }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(f *RoomManagerImpl) { f.now = now }
}

func NewRoomManager(opts ...ManagerOption) *RoomManagerImpl {
	f := &RoomManagerImpl{
		rooms: make(map[domain.RoomID]core.RoomService),
		busy:  make(map[domain.RoomID]chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}

	f.mu.Lock()
	for {
		if room, ok = f.rooms[id]; ok {
			f.mu.Unlock()
			return room
		}
		wait, busy := f.busy[id]
		if !busy {
			break
		}
		f.mu.Unlock()
		<-wait
		f.mu.Lock()
	}
	done := f.claimLocked(id)
	f.mu.Unlock()

	room = core.NewRoomService(&domain.Room{ID: id}, f.initialState(id), core.WithClock(f.now))

	f.mu.Lock()
	f.rooms[id] = room
	f.mu.Unlock()
	f.release(id, done)

	f.metrics.RoomCreated()
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

// claimLocked marks id busy. The caller must hold f.mu and later call
// release.
func (f *RoomManagerImpl) claimLocked(id domain.RoomID) chan struct{} {
	done := make(chan struct{})
	f.busy[id] = done
	return done
}

func (f *RoomManagerImpl) release(id domain.RoomID, done chan struct{}) {
	f.mu.Lock()
	if f.busy[id] == done {
		delete(f.busy, id)
	}
	f.mu.Unlock()
	close(done)
}

func (f *RoomManagerImpl) initialState(id domain.RoomID) domain.RoomState {
	if f.store == nil {
		return domain.NewRoomState()
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	state, found, err := f.store.Load(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("load snapshot, starting empty")
		return domain.NewRoomState()
	}
	if !found {
		return domain.NewRoomState()
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room restored from snapshot")
	return state
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// StopRoom closes and drops the room regardless of members and saves its
// state. Callers kick members first.
func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.retire(id, true)
}

// PurgeRoom drops the room like StopRoom but deletes its saved state
// instead of saving it. It also purges rooms that are not live.
func (f *RoomManagerImpl) PurgeRoom(id domain.RoomID) {
	f.retire(id, false)
}

func (f *RoomManagerImpl) retire(id domain.RoomID, keep bool) {
	f.mu.Lock()
	for {
		wait, busy := f.busy[id]
		if !busy {
			break
		}
		f.mu.Unlock()
		<-wait
		f.mu.Lock()
	}
	room, live := f.rooms[id]
	if !live && keep {
		f.mu.Unlock()
		return
	}
	if live {
		room.Shutdown()
		delete(f.rooms, id)
	}
	done := f.claimLocked(id)
	f.mu.Unlock()

	if keep {
		f.persist(room)
	} else {
		f.forget(id)
	}
	f.release(id, done)

	if live {
		f.metrics.RoomEvicted()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Bool("purged", !keep).Msg("room stopped")
	}
}

// Sweep evicts rooms that have been empty for at least idle and returns
// how many went. Each evicted id stays busy until its snapshot is saved.
func (f *RoomManagerImpl) Sweep(idle time.Duration) int {
	type evicted struct {
		room core.RoomService
		done chan struct{}
	}
	now := f.now()
	var out []evicted

	f.mu.Lock()
	for id, room := range f.rooms {
		if !room.TryClose(now, idle) {
			continue
		}
		delete(f.rooms, id)
		out = append(out, evicted{room: room, done: f.claimLocked(id)})
	}
	f.mu.Unlock()

	for _, e := range out {
		id := e.room.Room().ID
		f.persist(e.room)
		f.release(id, e.done)
		f.metrics.RoomEvicted()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Dur("idle", idle).Msg("room evicted")
	}
	return len(out)
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive
// idle disables eviction and returns immediately.
func (f *RoomManagerImpl) RunSweeper(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Sweep(idle)
		}
	}
}

// persist saves a closed room. Closed rooms accept no mutations, so the
// snapshot is final.
func (f *RoomManagerImpl) persist(room core.RoomService) {
	if f.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	id := room.Room().ID
	if err := f.store.Save(ctx, id, room.Snapshot()); err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("save snapshot")
	}
}

func (f *RoomManagerImpl) forget(id domain.RoomID) {
	if f.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := f.store.Delete(ctx, id); err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("delete snapshot")
	}
}
