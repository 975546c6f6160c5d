package core

import (
	"errors"
	"time"

	"github.com/dkeye/coderoom/internal/domain"
)

var (
	ErrNotMember   = errors.New("sender is not a room member")
	ErrRoomClosed  = errors.New("room closed")
	ErrUnknownPeer = errors.New("unknown peer")
	ErrPeerTaken   = errors.New("participant id already in room")
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"name"`
}

// SnapshotFunc renders frames from the state seen under the room lock.
type SnapshotFunc func(domain.RoomState) ([]Frame, error)

// JoinRenderFunc renders the frames a newcomer receives from the state and
// membership seen under the room lock, newcomer included.
type JoinRenderFunc func(domain.RoomState, []MemberDTO) ([]Frame, error)

// RoomService is the core-facing API of a room and its single
// serialization point: every method that reads or writes state or
// membership holds the room's lock for its whole duration, so frames are
// enqueued to members in exactly the order the room accepted them.
// It never closes transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Snapshot() domain.RoomState

	// Join adds sid, sends announce to everyone else and then sends the
	// frames rendered by push to sid only.
	Join(sid SessionID, ms MemberSession, announce Frame, push JoinRenderFunc) (PublishResult, error)
	// Leave removes sid and sends announce to the remaining members.
	Leave(sid SessionID, announce Frame) (PublishResult, bool)
	// Apply mutates the state and forwards frame to every member but from.
	Apply(from SessionID, m Mutation, frame Frame) (PublishResult, error)
	// MergeFullSync resolves the member registered under peerID, merges fs
	// into the state and sends that member the frames rendered from the
	// merged state. An unknown peerID leaves the state untouched.
	MergeFullSync(from SessionID, fs domain.FullSync, peerID string, render SnapshotFunc) error
	// SendTo delivers f to the member registered under peerID.
	SendTo(from SessionID, peerID string, f Frame) error

	// TryClose closes the room if it has been empty for at least idle.
	// A closed room rejects joins and mutations with ErrRoomClosed.
	TryClose(now time.Time, idle time.Duration) bool
	// Shutdown closes the room whatever its membership and returns the
	// sessions still in it. Leave keeps working on a closed room.
	Shutdown() []SessionID
	Closed() bool
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

// RoomManager is the session registry: one RoomService per RoomID.
type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
	PurgeRoom(id domain.RoomID)
}
