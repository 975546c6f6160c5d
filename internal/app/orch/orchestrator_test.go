package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/dkeye/coderoom/internal/app"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/dkeye/coderoom/internal/sandbox"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/conc"
)

type recConn struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	env, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Type
	}
	return out
}

func (c *recConn) last() protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return protocol.Envelope{}
	}
	return c.frames[len(c.frames)-1]
}

func (c *recConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fakeRunner struct {
	out sandbox.Outcome
	err error
}

func (f fakeRunner) Run(context.Context, domain.Language, string, string) (sandbox.Outcome, error) {
	return f.out, f.err
}

// hookRunner calls during before returning, as if the run took a while.
type hookRunner struct {
	out    sandbox.Outcome
	during func()
}

func (h hookRunner) Run(context.Context, domain.Language, string, string) (sandbox.Outcome, error) {
	h.during()
	return h.out, nil
}

func candidate(c string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: c}
}

func newOrch() *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
}

func connect(o *Orchestrator, sid core.SessionID, name string) (*recConn, *bool) {
	conn := &recConn{}
	canceled := new(bool)
	user := o.Registry.GetOrCreateUser(sid, name)
	meta := domain.NewMember(&domain.User{ID: user.ID, Username: user.Username}, string(sid))
	o.Registry.BindSignal(sid, core.NewMemberSession(meta, conn), func() { *canceled = true })
	return conn, canceled
}

func TestJoinPushesStateThenAnnounces(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	b, _ := connect(o, "b", "bob")

	if _, err := o.Join(ctx, "a", "r", "pa"); err != nil {
		t.Fatal(err)
	}
	if err := o.OnMutation(ctx, "a", core.Mutation{Kind: core.KindDocument, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	a.reset()

	joined, err := o.Join(ctx, "b", "r", "pb")
	if err != nil {
		t.Fatal(err)
	}
	if len(joined.Members) != 2 {
		t.Errorf("members = %+v", joined.Members)
	}
	want := []string{
		protocol.TypeDocumentLoad, protocol.TypeInputChange, protocol.TypeOutputChange,
		protocol.TypeModeChange, protocol.TypeCanvasLoad, protocol.TypeJoined,
	}
	got := b.types()
	if len(got) != len(want) {
		t.Fatalf("newcomer frames = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
	var doc protocol.TextPayload
	if err := b.frames[0].Bind(&doc); err != nil || doc.Text != "x" {
		t.Errorf("document-load = %+v, %v", doc, err)
	}
	if ty := a.types(); len(ty) != 1 || ty[0] != protocol.TypeParticipantJoined {
		t.Errorf("existing member frames = %v", ty)
	}
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	connect(o, "b", "bob")
	o.Join(ctx, "a", "r1", "")
	o.Join(ctx, "b", "r1", "")
	a.reset()

	if _, err := o.Join(ctx, "b", "r2", ""); err != nil {
		t.Fatal(err)
	}
	if ty := a.last().Type; ty != protocol.TypeParticipantLeft {
		t.Errorf("first room saw %s, want participant-left", ty)
	}
	if who := o.WhoAmI("b"); who.Room != "r2" || who.ParticipantID != "b" {
		t.Errorf("whoami = %+v", who)
	}
}

func TestJoinRejectsTakenParticipant(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	connect(o, "a", "alice")
	connect(o, "b", "bob")
	o.Join(ctx, "a", "r", "same")
	if _, err := o.Join(ctx, "b", "r", "same"); !errors.Is(err, core.ErrPeerTaken) {
		t.Fatalf("err = %v, want ErrPeerTaken", err)
	}
	if _, _, ok := o.Registry.RoomOf("b"); ok {
		t.Error("rejected session registered in room")
	}
}

func TestMutationOutsideRoomDropped(t *testing.T) {
	o := newOrch()
	connect(o, "a", "alice")
	err := o.OnMutation(context.Background(), "a", core.Mutation{Kind: core.KindDocument, Text: "x"})
	if !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
}

func TestSlowMemberIsKicked(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	connect(o, "a", "alice")
	b, canceled := connect(o, "b", "bob")
	o.Join(ctx, "a", "r", "")
	o.Join(ctx, "b", "r", "")

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()
	if err := o.OnMutation(ctx, "a", core.Mutation{Kind: core.KindDocument, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if !*canceled {
		t.Error("slow member connection not canceled")
	}
	if _, _, ok := o.Registry.RoomOf("b"); ok {
		t.Error("slow member still in room")
	}
}

func TestFullSyncDeliversMergedStateToTarget(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	b, _ := connect(o, "b", "bob")
	o.Join(ctx, "a", "r", "pa")
	o.Join(ctx, "b", "r", "pb")
	o.OnMutation(ctx, "a", core.Mutation{Kind: core.KindCanvasUpdate, Elements: []domain.CanvasElement{{
		Tool: domain.ToolLine, Color: "#000", StrokeWidth: 2, Points: []domain.Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
	}}})
	a.reset()
	b.reset()

	doc, lang := "body", domain.LanguagePython
	p := protocol.FullSyncPayload{Target: "pb", FullSync: domain.FullSync{Document: &doc, Language: &lang}}
	if err := o.FullSync(ctx, "a", p); err != nil {
		t.Fatal(err)
	}
	if len(a.types()) != 0 {
		t.Errorf("sender received %v", a.types())
	}
	env := b.last()
	if env.Type != protocol.TypeFullSync {
		t.Fatalf("target got %s", env.Type)
	}
	var st protocol.FullStatePayload
	if err := json.Unmarshal(env.Payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.Document != "body" || st.Language != domain.LanguagePython || len(st.Canvas) != 1 {
		t.Errorf("full state = %+v", st.RoomState)
	}
	if s, _ := o.Snapshot("a"); s.Document != "body" {
		t.Errorf("stored document = %q", s.Document)
	}

	p.Target = "ghost"
	if err := o.FullSync(ctx, "a", p); !errors.Is(err, core.ErrUnknownPeer) {
		t.Errorf("err = %v, want ErrUnknownPeer", err)
	}
}

func TestRelayStampsSender(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	connect(o, "a", "alice")
	b, _ := connect(o, "b", "bob")
	o.Join(ctx, "a", "r", "pa")
	o.Join(ctx, "b", "r", "pb")
	b.reset()

	cand := protocol.SignalPayload{Target: "pb", Candidate: candidate("candidate:1 1 udp 1 127.0.0.1 9 typ host")}
	if err := o.Relay(ctx, "a", cand); err != nil {
		t.Fatal(err)
	}
	var got protocol.SignalPayload
	if err := json.Unmarshal(b.last().Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.From != "pa" {
		t.Errorf("from = %q, want pa", got.From)
	}

	cand.Target = "pa"
	if err := o.Relay(ctx, "a", cand); !errors.Is(err, protocol.ErrBadSignal) {
		t.Errorf("self relay err = %v", err)
	}
}

func TestExecPublishesOutput(t *testing.T) {
	o := newOrch()
	o.Runner = fakeRunner{out: sandbox.Outcome{Output: "42"}}
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	connect(o, "b", "bob")
	o.Join(ctx, "a", "r", "")
	o.Join(ctx, "b", "r", "")
	a.reset()

	out, err := o.Exec(ctx, "b")
	if err != nil || out.Output != "42" {
		t.Fatalf("exec = %+v, %v", out, err)
	}
	if env := a.last(); env.Type != protocol.TypeOutputChange {
		t.Errorf("peer got %s, want output-change", env.Type)
	}
	if s, _ := o.Snapshot("a"); s.LastOutput != "42" {
		t.Errorf("stored output = %q", s.LastOutput)
	}

	o.Runner = fakeRunner{err: sandbox.ErrExecution}
	if _, err := o.Exec(ctx, "b"); !errors.Is(err, sandbox.ErrExecution) {
		t.Errorf("err = %v", err)
	}
	o.Runner = nil
	if _, err := o.Exec(ctx, "b"); !errors.Is(err, ErrNoRunner) {
		t.Errorf("err = %v", err)
	}
}

func TestExecOutputStaysInStartingRoom(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	connect(o, "b", "bob")
	c, _ := connect(o, "c", "carol")
	o.Join(ctx, "a", "r1", "")
	o.Join(ctx, "b", "r1", "")
	o.Join(ctx, "c", "r2", "")

	o.Runner = hookRunner{out: sandbox.Outcome{Output: "late"}, during: func() {
		if _, err := o.Join(ctx, "b", "r2", ""); err != nil {
			t.Error(err)
		}
	}}
	a.reset()
	c.reset()

	out, err := o.Exec(ctx, "b")
	if err != nil || out.Output != "late" {
		t.Fatalf("exec = %+v, %v", out, err)
	}
	for _, ty := range c.types() {
		if ty == protocol.TypeOutputChange {
			t.Error("output published to the room joined mid-run")
		}
	}
	for _, ty := range a.types() {
		if ty == protocol.TypeOutputChange {
			t.Error("output published to the room the runner left")
		}
	}
	if s, _ := o.Snapshot("c"); s.LastOutput != "" {
		t.Errorf("r2 output = %q", s.LastOutput)
	}
	if s, _ := o.Snapshot("a"); s.LastOutput != "" {
		t.Errorf("r1 output = %q", s.LastOutput)
	}
}

func TestEvictRoomNotifiesMembers(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	a, _ := connect(o, "a", "alice")
	o.Join(ctx, "a", "r", "")

	if !o.EvictRoom("r", false) {
		t.Fatal("EvictRoom returned false")
	}
	if ty := a.last().Type; ty != protocol.TypeLeft {
		t.Errorf("member got %s, want left", ty)
	}
	if _, ok := o.Rooms.Get("r"); ok {
		t.Error("room still registered")
	}
	if o.EvictRoom("r", false) {
		t.Error("second eviction succeeded")
	}
	if _, _, ok := o.Registry.RoomOf("a"); ok {
		t.Error("evicted member still registered in room")
	}
	if !o.EvictRoom("r", true) {
		t.Error("purge of a room that is not live failed")
	}
}

func TestEvictRaceLeavesNoMemberInStoppedRoom(t *testing.T) {
	o := newOrch()
	ctx := context.Background()
	const n = 32
	sids := make([]core.SessionID, n)
	for i := range sids {
		sids[i] = core.SessionID("s" + strconv.Itoa(i))
		connect(o, sids[i], "")
	}
	o.Rooms.GetOrCreate("r")

	var wg conc.WaitGroup
	for i, sid := range sids {
		wg.Go(func() { o.Join(ctx, sid, "r", "") })
		if i == n/2 {
			wg.Go(func() { o.EvictRoom("r", false) })
		}
	}
	wg.Wait()

	for _, sid := range sids {
		roomID, _, ok := o.Registry.RoomOf(sid)
		if !ok {
			continue
		}
		room, live := o.Rooms.Get(roomID)
		if !live || room.Closed() {
			t.Errorf("%s registered in stopped room %s", sid, roomID)
			continue
		}
		found := false
		for _, m := range room.MembersSnapshot() {
			if m.ParticipantID == string(sid) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s registered in %s but not a member", sid, roomID)
		}
	}
}
