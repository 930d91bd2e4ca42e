// Package agentclient is the runner-host half of the agent channel (spec
// component C6): a long-lived daemon that keeps a persistent, reconnecting
// WebSocket open to the controller, answers controller-initiated exec
// RPCs, and relays local CLI commands (create/finalize/status) to the
// controller over the same connection. Ported from
// original_source/e2epool/agent.py, re-expressed with goroutines and
// channels in place of asyncio tasks and futures.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/ipc"
)

const maxOutputBytes = 65536

type Config struct {
	ControllerURL     string
	RunnerID          string
	Token             string
	SocketPath        string
	HeartbeatInterval time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	RPCTimeout        time.Duration
}

// Agent holds the persistent controller connection and the local IPC
// server that the CLI subcommands talk to.
type Agent struct {
	cfg Config
	ipc *ipc.Server

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *agentchannel.Response

	connected atomic.Bool
	stopCh    chan struct{}
}

func New(cfg Config) *Agent {
	a := &Agent{
		cfg:     cfg,
		pending: make(map[string]chan *agentchannel.Response),
		stopCh:  make(chan struct{}),
	}
	a.ipc = ipc.NewServer(cfg.SocketPath, a.handleIPC)
	return a
}

// Run starts the IPC server and blocks running the reconnecting
// WebSocket loop until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ipc.Start(ctx); err != nil {
		return fmt.Errorf("starting ipc server: %w", err)
	}
	defer a.ipc.Stop()

	a.wsLoop(ctx)
	return nil
}

func (a *Agent) Stop() {
	close(a.stopCh)
}

// wsLoop reconnects with exponential backoff and jitter, matching the
// original's delay-doubling-up-to-reconnect_max_delay strategy.
func (a *Agent) wsLoop(ctx context.Context) {
	log := gologger.WithComponent("agentclient")
	delay := a.cfg.ReconnectMinDelay
	if delay <= 0 {
		delay = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		connectedOK := a.connectAndServe(ctx)
		if connectedOK {
			delay = a.cfg.ReconnectMinDelay
			if delay <= 0 {
				delay = time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		jitter := time.Duration(rand.Float64() * float64(delay) * 0.1)
		log.Warn().Dur("delay", delay+jitter).Msg("agent disconnected, reconnecting")

		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		}

		delay *= 2
		if a.cfg.ReconnectMaxDelay > 0 && delay > a.cfg.ReconnectMaxDelay {
			delay = a.cfg.ReconnectMaxDelay
		}
	}
}

// connectAndServe dials the controller, serves until the connection
// drops, and reports whether the connection was ever fully established
// (used by wsLoop to decide whether to reset the backoff delay).
func (a *Agent) connectAndServe(ctx context.Context) bool {
	log := gologger.WithComponent("agentclient")

	wsURL, err := a.buildURL()
	if err != nil {
		log.Error().Err(err).Msg("building controller url")
		return false
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dialing controller failed")
		return false
	}

	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
	a.connected.Store(true)
	log.Info().Str("runner_id", a.cfg.RunnerID).Msg("connected to controller")

	heartbeatStop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeat(heartbeatStop)
	}()

	a.recvLoop(ctx, conn)

	close(heartbeatStop)
	wg.Wait()

	a.connected.Store(false)
	conn.Close()
	a.failPending(fmt.Errorf("disconnected from controller"))
	return true
}

func (a *Agent) buildURL() (string, error) {
	u, err := url.Parse(a.cfg.ControllerURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("runner_id", a.cfg.RunnerID)
	q.Set("token", a.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Agent) heartbeat(stop chan struct{}) {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.writeMu.Lock()
			err := a.conn.WriteJSON(agentchannel.Request{ID: "", Type: "ping"})
			a.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (a *Agent) recvLoop(ctx context.Context, conn *websocket.Conn) {
	log := gologger.WithComponent("agentclient")
	for {
		var req agentchannel.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "exec":
			go a.handleExec(ctx, req)
		case "":
			// unsolicited pong/ack from heartbeat; nothing to do.
		default:
			// Reply to an agent-initiated request (sendAndWait): the
			// controller wraps its Response in a Request envelope (see
			// Hub.sendReply) because this loop only ever decodes Request,
			// so unwrap it here before delivering to the waiting caller.
			var resp agentchannel.Response
			if err := json.Unmarshal(req.Payload, &resp); err != nil {
				log.Warn().Err(err).Str("id", req.ID).Msg("decoding controller reply")
				resp = agentchannel.Response{Status: agentchannel.StatusError, Error: "malformed controller reply"}
			}
			resp.ID = req.ID
			if !a.deliver(&resp) {
				log.Debug().Str("id", req.ID).Msg("no pending request for controller message")
			}
		}
	}
}

func (a *Agent) deliver(resp *agentchannel.Response) bool {
	a.pendingMu.Lock()
	ch, ok := a.pending[resp.ID]
	if ok {
		delete(a.pending, resp.ID)
	}
	a.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

func (a *Agent) failPending(err error) {
	a.pendingMu.Lock()
	pending := a.pending
	a.pending = make(map[string]chan *agentchannel.Response)
	a.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- &agentchannel.Response{Status: agentchannel.StatusError, Error: err.Error()}
	}
}

// handleExec runs a controller-initiated shell command with a timeout,
// truncates captured output to maxOutputBytes, and replies on the same
// connection the request arrived on.
func (a *Agent) handleExec(ctx context.Context, req agentchannel.Request) {
	log := gologger.WithComponent("agentclient")

	var payload agentchannel.ExecPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		a.reply(req.ID, agentchannel.StatusError, nil, "invalid exec payload: "+err.Error())
		return
	}

	timeout := time.Duration(payload.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(execCtx, "sh", "-c", payload.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if execCtx.Err() != nil {
			log.Warn().Str("command", payload.Command).Msg("exec timed out")
			a.reply(req.ID, agentchannel.StatusError, nil, "command timed out")
			return
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			a.reply(req.ID, agentchannel.StatusError, nil, err.Error())
			return
		}
	}

	result := agentchannel.ExecResult{
		ExitCode: exitCode,
		Stdout:   truncate(stdout.String()),
		Stderr:   truncate(stderr.String()),
	}
	data, _ := json.Marshal(result)
	a.reply(req.ID, agentchannel.StatusOK, data, "")
}

func (a *Agent) reply(id, status string, data []byte, errMsg string) {
	resp := agentchannel.Response{ID: id, Status: status, Data: data, Error: errMsg}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return
	}
	_ = a.conn.WriteJSON(resp)
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes]
}

// sendAndWait issues an agent-initiated RPC to the controller and blocks
// for its response; handleIPC uses it to bridge local IPC calls.
func (a *Agent) sendAndWait(reqType string, payload any, timeout time.Duration) (*agentchannel.Response, error) {
	if !a.connected.Load() {
		return nil, fmt.Errorf("not connected to controller")
	}

	id := uuid.NewString()
	ch := make(chan *agentchannel.Response, 1)
	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		return nil, err
	}

	a.writeMu.Lock()
	err = a.conn.WriteJSON(agentchannel.Request{ID: id, Type: reqType, Payload: body})
	a.writeMu.Unlock()
	if err != nil {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		return nil, fmt.Errorf("timed out waiting for controller response")
	}
}

// handleIPC bridges a local CLI request to a controller RPC over the
// existing WebSocket connection, returning the controller's reply
// reshaped as {status, data, error} (a reply error becomes code 502) or a
// synthesized error envelope (code 503) if the RPC could not be made.
func (a *Agent) handleIPC(ctx context.Context, req map[string]any) map[string]any {
	reqType, _ := req["type"].(string)
	if reqType == "" {
		return map[string]any{"status": "error", "error": map[string]any{"code": 400, "detail": "missing request type"}}
	}

	timeout := a.cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	resp, err := a.sendAndWait(reqType, req, timeout)
	if err != nil {
		return map[string]any{"status": "error", "error": map[string]any{"code": 503, "detail": err.Error()}}
	}

	out := map[string]any{"status": resp.Status}
	if resp.Error != "" {
		out["error"] = map[string]any{"code": 502, "detail": resp.Error}
	}
	if len(resp.Data) > 0 {
		var data any
		if err := json.Unmarshal(resp.Data, &data); err == nil {
			out["data"] = data
		}
	}
	return out
}

// IsConnected reports whether the WebSocket to the controller is
// currently established.
func (a *Agent) IsConnected() bool {
	return a.connected.Load()
}
