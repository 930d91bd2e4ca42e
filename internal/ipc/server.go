package ipc

import (
	"context"
	"net"
	"os"

	"github.com/theblitlabs/gologger"
)

// Handler processes one decoded IPC request and returns the response to
// write back. It is called once per connection — the agent CLI opens a
// fresh socket connection per command.
type Handler func(ctx context.Context, req map[string]any) map[string]any

// Server is a Unix domain socket server that decodes one length-prefixed
// JSON request per connection, calls Handler, and writes back its
// length-prefixed JSON response.
type Server struct {
	socketPath string
	handler    Handler
	listener   net.Listener
}

func NewServer(socketPath string, handler Handler) *Server {
	return &Server{socketPath: socketPath, handler: handler}
}

func (s *Server) Start(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) Stop() error {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}
	return os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ctx context.Context) {
	log := gologger.WithComponent("ipc_server")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn().Err(err).Msg("ipc accept failed")
				return
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	log := gologger.WithComponent("ipc_server")
	defer conn.Close()

	var req map[string]any
	if err := ReadMessage(conn, &req); err != nil {
		return
	}

	resp := func() (resp map[string]any) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("ipc handler panicked")
				resp = map[string]any{"id": "", "status": "error", "error": "ipc handler error"}
			}
		}()
		return s.handler(ctx, req)
	}()

	if err := WriteMessage(conn, resp); err != nil {
		log.Warn().Err(err).Msg("writing ipc response failed")
	}
}
