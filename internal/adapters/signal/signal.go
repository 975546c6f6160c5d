package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Gin context keys set by the router middleware.
const (
	ClientTokenKey = "client_token"
	DisplayNameKey = "display_name"
)

type Options struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	PongWait    time.Duration
	SendBuffer  int
	ExecTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PongWait <= 0 {
		o.PongWait = o.PingPeriod * 10 / 9
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 15 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter
	Metrics *metrics.Metrics
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RoomRateLimiter, m *metrics.Metrics, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		Metrics: m,
		opts:    opts.withDefaults(),
	}
}

// WsSignalConn is a websocket connection with a bounded send queue
// drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	// user keys rate limiting; one browser may hold several connections.
	user domain.UserID

	mu      sync.RWMutex
	closed  bool
	running bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// startRun marks an execution in flight; false if one already is.
func (c *WsSignalConn) startRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *WsSignalConn) endRun() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until it
// closes or ctx is done. Every connection gets its own session id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := c.GetString(ClientTokenKey)
	if token == "" {
		token = string(sid)
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
		user: domain.UserID(token),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid, c.GetString(DisplayNameKey))
	meta := domain.NewMember(&domain.User{ID: user.ID, Username: user.Username}, string(sid))
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, core.NewMemberSession(meta, conn), cancel)
	ctl.Metrics.ConnOpened()

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
