// Package orch wires connections, rooms and the registry together. It is
// the only place that knows both the transport session and the room.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/coderoom/internal/app"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/dkeye/coderoom/internal/sandbox"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dkeye/coderoom/internal/app/orch"

var (
	ErrNotInRoom = errors.New("not in a room")
	ErrNoRunner  = errors.New("code execution disabled")
)

// Runner executes code in a sandbox.
type Runner interface {
	Run(ctx context.Context, lang domain.Language, code, stdin string) (sandbox.Outcome, error)
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Runner   Runner
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return otel.Tracer(tracerName)
}

// roomOf resolves the room sid currently belongs to.
func (o *Orchestrator) roomOf(sid core.SessionID) (core.RoomService, core.MemberSession, error) {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	return room, sess, nil
}

// handleDropped applies the backpressure policy to every member a publish
// could not reach.
func (o *Orchestrator) handleDropped(room core.RoomService, res core.PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	o.Metrics.Backpressure(len(res.Dropped))
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room.Room().ID)).Msg("kicking slow member")
			o.KickBySID(slow)
		case app.DropFrame, app.NoAction:
		}
	}
}

// Snapshot returns the state of the room sid is in.
func (o *Orchestrator) Snapshot(sid core.SessionID) (domain.RoomState, error) {
	room, _, err := o.roomOf(sid)
	if err != nil {
		return domain.RoomState{}, err
	}
	return room.Snapshot(), nil
}

// Exec runs the room's document with its stdin and publishes the output
// to the other members as an output-change. The output goes to the room
// the run started in, and only while sid is still a member there.
func (o *Orchestrator) Exec(ctx context.Context, sid core.SessionID) (sandbox.Outcome, error) {
	ctx, span := o.tracer().Start(ctx, "orch.exec")
	defer span.End()

	if o.Runner == nil {
		return sandbox.Outcome{}, ErrNoRunner
	}
	room, _, err := o.roomOf(sid)
	if err != nil {
		return sandbox.Outcome{}, err
	}
	s := room.Snapshot()
	start := time.Now()
	out, err := o.Runner.Run(ctx, s.Language, s.Document, s.Stdin)
	o.Metrics.ObserveExec(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return sandbox.Outcome{}, err
	}
	m := core.Mutation{Kind: core.KindOutput, Text: out.Output}
	if err := o.apply(room, sid, m); err != nil {
		if !errors.Is(err, ErrNotInRoom) {
			return out, err
		}
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.Room().ID)).Msg("run finished after leaving its room")
	}
	return out, nil
}
