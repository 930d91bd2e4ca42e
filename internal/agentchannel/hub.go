package agentchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/theblitlabs/gologger"
)

// ErrNotConnected is returned when Exec (or any RPC) targets a runner_id
// this replica has no live connection for. InternalHandler checks
// IsConnected first and answers 404 in that case; an Exec error that
// still reaches it is answered with 502.
var ErrNotConnected = fmt.Errorf("runner not connected to this replica")

var ErrRPCTimeout = fmt.Errorf("agent did not respond in time")

// conn wraps one runner-host's live WebSocket with its in-flight request
// table, mirroring WebhookService's map+RWMutex registry shape but keyed
// by correlation id instead of webhook id.
type conn struct {
	runnerID string
	ws       *websocket.Conn
	writeMu  sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *Response

	closed chan struct{}
}

func newConn(runnerID string, ws *websocket.Conn) *conn {
	return &conn{
		runnerID: runnerID,
		ws:       ws,
		pending:  make(map[string]chan *Response),
		closed:   make(chan struct{}),
	}
}

func (c *conn) send(req *Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(req)
}

// sendReply answers an agent-initiated request. It is wire-shaped as a
// Request (not a Response) because the agent's own read loop
// (agentclient.recvLoop) only ever decodes incoming frames as Request and
// correlates anything whose Type isn't "" or "exec" by ID — so the reply's
// envelope must carry a non-empty, non-"exec" Type for the agent to route
// it back to the sendAndWait caller that is blocked on this id.
func (c *conn) sendReply(id string, payload json.RawMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(&Request{ID: id, Type: "reply", Payload: payload})
}

// Hub is the per-replica registry of live agent connections. Exactly one
// entry per runner_id; a reconnect closes and replaces the prior
// connection.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	rpcTimeout        time.Duration

	requestHandler RequestHandler
}

// RequestHandler answers an agent-initiated request (create/finalize/
// status, spec §4.6) with a JSON payload or an error; errors are relayed
// to the agent as a Response with Status StatusError.
type RequestHandler func(ctx context.Context, runnerID string, reqType string, payload json.RawMessage) (json.RawMessage, error)

func NewHub(heartbeatInterval, heartbeatTimeout, rpcTimeout time.Duration) *Hub {
	return &Hub{
		conns:             make(map[string]*conn),
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		rpcTimeout:        rpcTimeout,
	}
}

// Register adopts ws as runnerID's connection, closing any prior
// connection for the same runner, and starts its read/heartbeat loop.
// Register returns once the connection closes.
func (h *Hub) Register(runnerID string, ws *websocket.Conn) {
	log := gologger.WithComponent("agentchannel")
	c := newConn(runnerID, ws)

	h.mu.Lock()
	if old, ok := h.conns[runnerID]; ok {
		log.Info().Str("runner_id", runnerID).Msg("replacing existing agent connection")
		old.ws.Close()
	}
	h.conns[runnerID] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conns[runnerID] == c {
			delete(h.conns, runnerID)
		}
		h.mu.Unlock()
		close(c.closed)
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))
		return nil
	})

	stopHeartbeat := make(chan struct{})
	go h.heartbeatLoop(c, stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		var resp Response
		if err := ws.ReadJSON(&resp); err != nil {
			log.Info().Err(err).Str("runner_id", runnerID).Msg("agent connection closed")
			return
		}
		h.dispatch(c, &resp)
	}
}

func (h *Hub) heartbeatLoop(c *conn, stop chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) dispatch(c *conn, resp *Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- resp
		return
	}

	// No pending request: this is an agent-initiated message. "" and
	// "ping" are the heartbeat the agent fires on its own ticker
	// (agentclient.heartbeat) and never waits on a reply for; anything
	// else is a create/finalize/status call (spec §4.6) that must get a
	// reply correlated by id, so it's handled off the read loop.
	if resp.Type == "" || resp.Type == "ping" {
		return
	}
	if h.requestHandler == nil {
		log := gologger.WithComponent("agentchannel")
		log.Warn().
			Str("runner_id", c.runnerID).Str("type", resp.Type).
			Msg("agent-initiated request received with no handler registered, dropping")
		return
	}
	go h.serveUnsolicited(c, resp)
}

func (h *Hub) serveUnsolicited(c *conn, req *Response) {
	log := gologger.WithComponent("agentchannel")

	ctx, cancel := context.WithTimeout(context.Background(), h.rpcTimeout)
	defer cancel()

	data, err := h.requestHandler(ctx, c.runnerID, req.Type, req.Payload)

	reply := &Response{ID: req.ID, Status: StatusOK, Data: data}
	if err != nil {
		reply.Status = StatusError
		reply.Error = err.Error()
	}

	body, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("runner_id", c.runnerID).Msg("marshaling agent-request reply")
		return
	}
	if err := c.sendReply(req.ID, body); err != nil {
		log.Warn().Err(err).Str("runner_id", c.runnerID).Str("type", req.Type).
			Msg("sending reply to agent-initiated request")
	}
}

// SetRequestHandler registers the handler invoked for agent-initiated
// create/finalize/status requests. Must be called before Register starts
// accepting connections.
func (h *Hub) SetRequestHandler(fn RequestHandler) {
	h.requestHandler = fn
}

// IsConnected reports whether this replica holds a live connection for
// runnerID.
func (h *Hub) IsConnected(runnerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[runnerID]
	return ok
}

// Call sends req to runnerID and blocks for its correlated response, or
// ErrNotConnected / ErrRPCTimeout / ctx.Err().
func (h *Hub) Call(ctx context.Context, runnerID string, reqType string, payload interface{}) (*Response, error) {
	h.mu.RLock()
	c, ok := h.conns[runnerID]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling agent request payload: %w", err)
	}

	req := &Request{ID: uuid.New().String(), Type: reqType, Payload: body}

	ch := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("sending agent request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, h.rpcTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Status == StatusError {
			return resp, fmt.Errorf("agent error: %s", resp.Error)
		}
		return resp, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrRPCTimeout
	case <-c.closed:
		return nil, ErrNotConnected
	}
}

// Exec runs command on runnerID's agent over the agent channel.
func (h *Hub) Exec(ctx context.Context, runnerID, command string, timeout time.Duration) (*ExecResult, error) {
	resp, err := h.Call(ctx, runnerID, "exec", ExecPayload{
		Command:        command,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}
	var result ExecResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("decoding exec result: %w", err)
	}
	return &result, nil
}
