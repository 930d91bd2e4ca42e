package ipc

import (
	"fmt"
	"net"
	"time"
)

// Client is a blocking Unix domain socket client used by the e2epool-agent
// CLI subcommands to talk to the already-running agent daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string, timeout time.Duration) *Client {
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Request sends one request and returns the decoded response. Each call
// opens and closes its own connection.
func (c *Client) Request(req map[string]any) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("sending ipc request: %w", err)
	}

	var resp map[string]any
	if err := ReadMessage(conn, &resp); err != nil {
		return nil, fmt.Errorf("agent closed connection: %w", err)
	}
	return resp, nil
}
