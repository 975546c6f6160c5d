package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/coderoom/internal/app"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// joinAttempts bounds retries against rooms closed by the sweeper between
// lookup and join.
const joinAttempts = 3

// Join puts sid into roomID. A connection already in a room leaves it
// first. The newcomer receives the state push and then the joined ack;
// the others receive participant-joined.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, peerID string) (protocol.JoinedPayload, error) {
	_, span := o.tracer().Start(ctx, "orch.join")
	defer span.End()
	span.SetAttributes(attribute.String("room", string(roomID)))

	if err := roomID.Validate(); err != nil {
		return protocol.JoinedPayload{}, err
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return protocol.JoinedPayload{}, app.ErrNoSession
	}
	if from, _, ok := o.Registry.RoomOf(sid); ok {
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}

	user, _ := o.Registry.User(sid)
	if user.Username == "" {
		user = domain.User{ID: domain.UserID(sid), Username: domain.DefaultName}
	}
	if peerID == "" {
		peerID = string(sid)
	}
	ms := core.NewMemberSession(domain.NewMember(&user, peerID), sess.Signal())

	announce, err := protocol.Encode(protocol.TypeParticipantJoined, roomID, protocol.ParticipantPayload{
		ParticipantID: peerID,
		Name:          user.Username,
	})
	if err != nil {
		return protocol.JoinedPayload{}, err
	}

	// Registered before the room sees sid, so an eviction that finds sid
	// among the members also finds its registry entry.
	o.Registry.UpdateRoom(sid, roomID, ms)

	var room core.RoomService
	var res core.PublishResult
	for attempt := 0; ; attempt++ {
		room = o.Rooms.GetOrCreate(roomID)
		res, err = room.Join(sid, ms, announce, protocol.JoinPush(roomID, peerID))
		if !errors.Is(err, core.ErrRoomClosed) || attempt == joinAttempts-1 {
			break
		}
	}
	if err != nil {
		o.Registry.LeaveRoom(sid, roomID)
		span.RecordError(err)
		return protocol.JoinedPayload{}, fmt.Errorf("join %s: %w", roomID, err)
	}
	o.Metrics.Joined()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("peer", peerID).Msg("joined room")

	o.handleDropped(room, res)
	return protocol.JoinedPayload{ParticipantID: peerID, Members: room.MembersSnapshot()}, nil
}

// Leave removes sid from its room and announces participant-left.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	o.Registry.RemoveRoom(sid)
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return false
	}
	return o.leaveRoom(room, sid, sess)
}

func (o *Orchestrator) leaveRoom(room core.RoomService, sid core.SessionID, sess core.MemberSession) bool {
	roomID := room.Room().ID
	var announce core.Frame
	if sess != nil {
		if meta := sess.Meta(); meta != nil {
			announce, _ = protocol.Encode(protocol.TypeParticipantLeft, roomID, protocol.ParticipantPayload{
				ParticipantID: meta.PeerID,
				Name:          meta.User.Username,
			})
		}
	}
	res, left := room.Leave(sid, announce)
	if left {
		o.Metrics.Left()
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
	}
	o.handleDropped(room, res)
	return left
}

// OnDisconnect is called once when the connection of sid is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

// KickBySID removes sid from its room and stops its connection.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Cancel(sid)
}

// EvictRoom stops the room and sends every member a left frame. The room
// is closed before members are removed, so a concurrent join either is
// among them or lands in a fresh room. With purge the saved state is
// deleted instead of written, and purging works for rooms that are not
// live too.
func (o *Orchestrator) EvictRoom(id domain.RoomID, purge bool) bool {
	room, live := o.Rooms.Get(id)
	if purge {
		o.Rooms.PurgeRoom(id)
	} else if live {
		o.Rooms.StopRoom(id)
	}
	if !live {
		return purge
	}

	left, _ := protocol.Encode(protocol.TypeLeft, id, nil)
	for _, sid := range room.Shutdown() {
		sess, _ := o.Registry.GetSession(sid)
		o.Registry.LeaveRoom(sid, id)
		o.leaveRoom(room, sid, sess)
		if sess != nil && sess.Signal() != nil {
			_ = sess.Signal().TrySend(left)
		}
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Bool("purged", purge).Msg("room evicted")
	return true
}

// Rename changes the display name used on the next join.
func (o *Orchestrator) Rename(sid core.SessionID, name string) error {
	return o.Registry.UpdateUsername(sid, name)
}

func (o *Orchestrator) WhoAmI(sid core.SessionID) protocol.WhoAmIPayload {
	out := protocol.WhoAmIPayload{}
	if u, ok := o.Registry.User(sid); ok {
		out.Username = u.Username
	}
	if roomID, sess, ok := o.Registry.RoomOf(sid); ok {
		out.Room = string(roomID)
		if meta := sess.Meta(); meta != nil {
			out.ParticipantID = meta.PeerID
		}
	}
	return out
}
