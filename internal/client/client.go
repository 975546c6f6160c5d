// Package client is a Go peer for the room websocket.
//
// A Client keeps a local view of the room it joined. Pushes and forwarded
// mutations overwrite the view field by field; a full-sync replaces it
// whole. Local document edits go through the typing lock, and canvas
// strokes stay local until they are committed.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer = 256
	writeWait   = 5 * time.Second
)

var (
	ErrClosed    = errors.New("client closed")
	ErrNotJoined = errors.New("not joined")
	ErrNoStroke  = errors.New("no stroke in progress")
)

// ServerError is an error frame returned for a request.
type ServerError struct {
	Code      string
	Retryable bool
}

func (e *ServerError) Error() string { return "server error: " + e.Code }

type Options struct {
	// TypingWindow defaults to DefaultTypingWindow.
	TypingWindow time.Duration
	// AutoReconcile answers participant-joined with a full-sync of the
	// local view, targeted at the newcomer.
	AutoReconcile bool
	Dialer        *websocket.Dialer
	Header        http.Header
	Clock         func() time.Time
}

type Client struct {
	conn *websocket.Conn
	opts Options
	lock *TypingLock

	writeMu sync.Mutex

	mu      sync.Mutex
	room    domain.RoomID
	self    string
	joined  bool
	view    domain.RoomState
	members map[string]string
	stroke  *domain.CanvasElement
	// pending holds requests by id; waiters holds them by the reply types
	// the server sends without an id.
	pending map[string]chan protocol.Envelope
	waiters map[string][]chan protocol.Envelope

	events chan protocol.Envelope
	done   chan struct{}
	err    error
}

// Dial connects to a room websocket endpoint such as ws://host/api/ws.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		opts:    opts,
		lock:    NewTypingLock(opts.TypingWindow, opts.Clock),
		view:    domain.NewRoomState(),
		members: make(map[string]string),
		pending: make(map[string]chan protocol.Envelope),
		waiters: make(map[string][]chan protocol.Envelope),
		events:  make(chan protocol.Envelope, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields every frame after it has been applied to the view. It is
// closed when the connection ends. Frames are dropped if nobody reads.
func (c *Client) Events() <-chan protocol.Envelope { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) View() domain.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Clone()
}

func (c *Client) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Members() []core.MemberDTO {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.MemberDTO, 0, len(c.members))
	for id, name := range c.members {
		out = append(out, core.MemberDTO{ParticipantID: id, Username: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func (c *Client) TypingState() LockState { return c.lock.State() }

func (c *Client) write(id, typ string, payload any) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	f, err := protocol.EncodeReply(id, typ, room, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(f)
}

func (c *Client) writeFrame(f core.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, f)
}

// request sends a frame tagged with a fresh id and waits for the frame
// echoing that id, or for the first untagged frame of one of the given
// types. Error frames only count when they carry the id.
func (c *Client) request(ctx context.Context, typ string, room domain.RoomID, payload any, replies ...string) (protocol.Envelope, error) {
	id := uuid.NewString()
	ch := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	for _, r := range replies {
		c.waiters[r] = append(c.waiters[r], ch)
	}
	if room != "" {
		c.room = room
	}
	c.mu.Unlock()
	defer c.dropWaiter(id, ch)

	if err := c.write(id, typ, payload); err != nil {
		return protocol.Envelope{}, err
	}
	select {
	case env := <-ch:
		if env.Type == protocol.TypeError {
			var p protocol.ErrorPayload
			_ = env.Bind(&p)
			return env, &ServerError{Code: p.Error, Retryable: p.Retryable}
		}
		return env, nil
	case <-c.done:
		return protocol.Envelope{}, ErrClosed
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *Client) dropWaiter(id string, ch chan protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	for typ, list := range c.waiters {
		kept := list[:0]
		for _, w := range list {
			if w != ch {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(c.waiters, typ)
		} else {
			c.waiters[typ] = kept
		}
	}
}

// Join enters room and returns once the state push has been applied.
// Empty participantID lets the server pick one.
func (c *Client) Join(ctx context.Context, room domain.RoomID, participantID, name string) (protocol.JoinedPayload, error) {
	if err := room.Validate(); err != nil {
		return protocol.JoinedPayload{}, err
	}
	env, err := c.request(ctx, protocol.TypeJoin, room, protocol.JoinPayload{ParticipantID: participantID, Name: name}, protocol.TypeJoined)
	if err != nil {
		return protocol.JoinedPayload{}, err
	}
	var p protocol.JoinedPayload
	if err := env.Bind(&p); err != nil {
		return protocol.JoinedPayload{}, err
	}
	return p, nil
}

func (c *Client) Leave(ctx context.Context) error {
	_, err := c.request(ctx, protocol.TypeLeave, "", nil, protocol.TypeLeft)
	return err
}

// Ping round-trips through the server. Every frame the server sent before
// the pong has been applied when it returns.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.TypePing, "", nil, protocol.TypePong)
	return err
}

func (c *Client) Rename(ctx context.Context, name string) (protocol.WhoAmIPayload, error) {
	env, err := c.request(ctx, protocol.TypeRename, "", protocol.RenamePayload{Name: name}, protocol.TypeWhoAmI)
	if err != nil {
		return protocol.WhoAmIPayload{}, err
	}
	var p protocol.WhoAmIPayload
	err = env.Bind(&p)
	return p, err
}

// Run asks the server to execute the room's document.
func (c *Client) Run(ctx context.Context) (protocol.ExecResultPayload, error) {
	env, err := c.request(ctx, protocol.TypeRun, "", nil, protocol.TypeExecResult)
	if err != nil {
		return protocol.ExecResultPayload{}, err
	}
	var p protocol.ExecResultPayload
	if err := env.Bind(&p); err != nil {
		return protocol.ExecResultPayload{}, err
	}
	c.mu.Lock()
	c.view.LastOutput = p.Output
	c.mu.Unlock()
	return p, nil
}

func (c *Client) requireJoined() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return ErrNotJoined
	}
	return nil
}

// mutate applies m locally and sends it.
func (c *Client) mutate(m core.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := c.requireJoined(); err != nil {
		return err
	}
	c.mu.Lock()
	m.ApplyTo(&c.view)
	room := c.room
	c.mu.Unlock()
	f, err := protocol.EncodeMutation(room, m)
	if err != nil {
		return err
	}
	return c.writeFrame(f)
}

// EditDocument replaces the document. It fails with ErrTypingSuppressed
// while a peer is typing; the edit is then neither applied nor sent.
func (c *Client) EditDocument(text string) error {
	if err := c.lock.Allow(); err != nil {
		return err
	}
	return c.mutate(core.Mutation{Kind: core.KindDocument, Text: text})
}

func (c *Client) SetInput(text string) error {
	return c.mutate(core.Mutation{Kind: core.KindInput, Text: text})
}

func (c *Client) SetOutput(text string) error {
	return c.mutate(core.Mutation{Kind: core.KindOutput, Text: text})
}

func (c *Client) SetMode(lang domain.Language) error {
	return c.mutate(core.Mutation{Kind: core.KindMode, Mode: lang})
}

func (c *Client) SendCanvasMessage(text string) error {
	c.mu.Lock()
	name := c.members[c.self]
	c.mu.Unlock()
	return c.mutate(core.Mutation{Kind: core.KindCanvasMessage, Message: domain.CanvasMessage{Text: text, DisplayName: name}})
}

// FullSync sends the local view to the newcomer named target.
func (c *Client) FullSync(target string) error {
	if err := c.requireJoined(); err != nil {
		return err
	}
	v := c.View()
	return c.write("", protocol.TypeFullSync, protocol.FullSyncPayload{
		Target: target,
		FullSync: domain.FullSync{
			Document:   &v.Document,
			Stdin:      &v.Stdin,
			LastOutput: &v.LastOutput,
			Language:   &v.Language,
		},
	})
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("module", "client").Msg("read loop ended")
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		c.apply(env)
		c.notify(env)
		select {
		case c.events <- env:
		default:
		}
	}
}

func (c *Client) notify(env protocol.Envelope) {
	c.mu.Lock()
	var w chan protocol.Envelope
	switch {
	case env.ID != "":
		w = c.pending[env.ID]
	case env.Type != protocol.TypeError:
		if list := c.waiters[env.Type]; len(list) > 0 {
			w = list[0]
		}
	}
	c.mu.Unlock()
	if w != nil {
		select {
		case w <- env:
		default:
		}
	}
}
