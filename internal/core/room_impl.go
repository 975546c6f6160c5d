package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/coderoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room
	now  func() time.Time

	mu         sync.Mutex
	bySID      map[SessionID]MemberSession
	byPeer     map[string]SessionID
	state      domain.RoomState
	closed     bool
	emptySince time.Time
}

type RoomOption func(*roomImpl)

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) RoomOption {
	return func(r *roomImpl) { r.now = now }
}

func NewRoomService(room *domain.Room, state domain.RoomState, opts ...RoomOption) RoomService {
	r := &roomImpl{
		room:   room,
		now:    time.Now,
		bySID:  make(map[SessionID]MemberSession),
		byPeer: make(map[string]SessionID),
		state:  state.Clone(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.emptySince = r.now()
	return r
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySID)
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *roomImpl) membersLocked() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		m := ms.Meta()
		out = append(out, MemberDTO{ParticipantID: m.PeerID, Username: m.User.Username})
	}
	return out
}

func (r *roomImpl) Snapshot() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

func (r *roomImpl) Join(sid SessionID, ms MemberSession, announce Frame, push JoinRenderFunc) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}

	peer := ms.Meta().PeerID
	if other, ok := r.byPeer[peer]; ok && other != sid {
		return PublishResult{}, fmt.Errorf("%w: %s", ErrPeerTaken, peer)
	}
	r.bySID[sid] = ms
	r.byPeer[peer] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("peer", peer).Msg("member added")

	res := r.broadcastLocked(sid, announce)

	if push == nil {
		return res, nil
	}
	frames, err := push(r.state, r.membersLocked())
	if err != nil {
		return res, fmt.Errorf("render join snapshot: %w", err)
	}
	for _, f := range frames {
		if err := ms.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, sid)
			break
		}
	}
	return res, nil
}

func (r *roomImpl) Leave(sid SessionID, announce Frame) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return PublishResult{}, false
	}
	delete(r.bySID, sid)
	if peer := ms.Meta().PeerID; r.byPeer[peer] == sid {
		delete(r.byPeer, peer)
	}
	if len(r.bySID) == 0 {
		r.emptySince = r.now()
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")

	return r.broadcastLocked(sid, announce), true
}

func (r *roomImpl) Apply(from SessionID, m Mutation, frame Frame) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[from]; !ok {
		return PublishResult{}, ErrNotMember
	}
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}
	m.ApplyTo(&r.state)
	return r.broadcastLocked(from, frame), nil
}

func (r *roomImpl) MergeFullSync(from SessionID, fs domain.FullSync, peerID string, render SnapshotFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[from]; !ok {
		return ErrNotMember
	}
	if r.closed {
		return ErrRoomClosed
	}
	var target MemberSession
	if peerID != "" {
		var ok bool
		if target, ok = r.memberByPeerLocked(peerID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
		}
	}
	r.state.Merge(fs)

	if target == nil || render == nil {
		return nil
	}
	frames, err := render(r.state)
	if err != nil {
		return fmt.Errorf("render full sync: %w", err)
	}
	for _, f := range frames {
		if err := target.Signal().TrySend(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *roomImpl) SendTo(from SessionID, peerID string, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[from]; !ok {
		return ErrNotMember
	}
	target, ok := r.memberByPeerLocked(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return target.Signal().TrySend(f)
}

func (r *roomImpl) TryClose(now time.Time, idle time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	if len(r.bySID) > 0 || now.Sub(r.emptySince) < idle {
		return false
	}
	r.closed = true
	return true
}

func (r *roomImpl) Shutdown() []SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]SessionID, 0, len(r.bySID))
	for sid := range r.bySID {
		out = append(out, sid)
	}
	return out
}

func (r *roomImpl) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *roomImpl) memberByPeerLocked(peerID string) (MemberSession, bool) {
	sid, ok := r.byPeer[peerID]
	if !ok {
		return nil, false
	}
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) broadcastLocked(from SessionID, data Frame) PublishResult {
	res := PublishResult{}
	if data == nil {
		return res
	}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			if !errors.Is(err, ErrConnClosed) {
				res.Dropped = append(res.Dropped, sid)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
