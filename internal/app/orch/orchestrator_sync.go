package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// OnMutation applies m to the sender's room and forwards it to every other
// member. Mutations from connections outside a room are dropped.
func (o *Orchestrator) OnMutation(ctx context.Context, sid core.SessionID, m core.Mutation) error {
	_, span := o.tracer().Start(ctx, "orch.mutation")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(m.Kind)))

	if err := m.Validate(); err != nil {
		o.Metrics.MutationDropped(metrics.ReasonMalformed)
		return err
	}
	room, _, err := o.roomOf(sid)
	if err != nil {
		o.Metrics.MutationDropped(metrics.ReasonNotMember)
		return err
	}
	return o.apply(room, sid, m)
}

// apply runs a validated mutation against room. A sender that is no
// longer a member, or a closed room, is ErrNotInRoom.
func (o *Orchestrator) apply(room core.RoomService, sid core.SessionID, m core.Mutation) error {
	frame, err := protocol.EncodeMutation(room.Room().ID, m)
	if err != nil {
		return err
	}
	res, err := room.Apply(sid, m, frame)
	if errors.Is(err, core.ErrNotMember) || errors.Is(err, core.ErrRoomClosed) {
		o.Metrics.MutationDropped(metrics.ReasonNotMember)
		return ErrNotInRoom
	}
	if err != nil {
		return err
	}
	o.Metrics.MutationApplied(string(m.Kind))
	o.handleDropped(room, res)
	return nil
}

// FullSync merges the aggregate a peer sent and delivers the merged
// state, canvas included, to the newcomer named by p.Target.
func (o *Orchestrator) FullSync(ctx context.Context, sid core.SessionID, p protocol.FullSyncPayload) error {
	_, span := o.tracer().Start(ctx, "orch.full_sync")
	defer span.End()

	if err := p.FullSync.Validate(); err != nil {
		o.Metrics.MutationDropped(metrics.ReasonMalformed)
		return err
	}
	room, _, err := o.roomOf(sid)
	if err != nil {
		o.Metrics.MutationDropped(metrics.ReasonNotMember)
		return err
	}
	err = room.MergeFullSync(sid, p.FullSync, p.Target, protocol.FullState(room.Room().ID))
	switch {
	case errors.Is(err, core.ErrNotMember), errors.Is(err, core.ErrRoomClosed):
		o.Metrics.MutationDropped(metrics.ReasonNotMember)
		return ErrNotInRoom
	case errors.Is(err, core.ErrBackpressure):
		o.Metrics.Backpressure(1)
		log.Warn().Str("module", "orch").Str("target", p.Target).Msg("full sync target is backlogged")
		return err
	case err != nil:
		span.RecordError(err)
		return err
	}
	o.Metrics.FullSynced()
	return nil
}

// Relay forwards a peer negotiation message to p.Target, stamping the
// sender's participant id.
func (o *Orchestrator) Relay(ctx context.Context, sid core.SessionID, p protocol.SignalPayload) error {
	_, span := o.tracer().Start(ctx, "orch.relay")
	defer span.End()

	if err := p.Validate(); err != nil {
		return err
	}
	room, sess, err := o.roomOf(sid)
	if err != nil {
		return err
	}
	p.From = sess.Meta().PeerID
	if p.From == p.Target {
		return fmt.Errorf("%w: target is sender", protocol.ErrBadSignal)
	}
	f, err := protocol.Encode(protocol.TypeSignal, room.Room().ID, p)
	if err != nil {
		return err
	}
	if err := room.SendTo(sid, p.Target, f); err != nil {
		if errors.Is(err, core.ErrNotMember) {
			return ErrNotInRoom
		}
		return err
	}
	return nil
}
