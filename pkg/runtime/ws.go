package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSGateway bridges websocket clients onto a Service. It is both a Source
// and a Sink: inbound frames become messages, and each reply is routed back
// to the connection its message arrived on.
//
// Frames are JSON Message / Reply objects. A frame with no ID is assigned
// one so the client can correlate the reply.
type WSGateway struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	inbox chan Message
	done  chan struct{}

	mu     sync.Mutex
	conns  map[*websocket.Conn]*sync.Mutex // per-conn write lock
	routes map[string]*websocket.Conn      // message ID -> origin conn
	closed bool
}

// NewWSGateway creates a gateway ready to be registered as an HTTP handler
// and passed to Service.Serve.
func NewWSGateway(logger *slog.Logger) *WSGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSGateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		inbox:  make(chan Message, 64),
		done:   make(chan struct{}),
		conns:  make(map[*websocket.Conn]*sync.Mutex),
		routes: make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades the request and pumps its frames into the gateway
// until the client disconnects.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.conns[conn] = &sync.Mutex{}
	g.mu.Unlock()
	g.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	defer g.drop(conn)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return
		}
		g.routes[msg.ID] = conn
		g.mu.Unlock()

		select {
		case g.inbox <- msg:
		case <-g.done:
			return
		}
	}
}

// Recv implements Source.
func (g *WSGateway) Recv(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-g.done:
		return Message{}, ErrSourceClosed
	case msg := <-g.inbox:
		return msg, nil
	}
}

// Send implements Sink. A reply whose origin connection is gone is dropped;
// the client that asked is no longer there to hear the answer.
func (g *WSGateway) Send(_ context.Context, r Reply) error {
	g.mu.Lock()
	conn, ok := g.routes[r.ID]
	delete(g.routes, r.ID)
	var wmu *sync.Mutex
	if ok {
		wmu, ok = g.conns[conn]
	}
	g.mu.Unlock()
	if !ok {
		g.logger.Debug("reply dropped, client gone", "id", r.ID)
		return nil
	}

	wmu.Lock()
	defer wmu.Unlock()
	return conn.WriteJSON(r)
}

// Close disconnects all clients and ends the message stream.
func (g *WSGateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for conn := range g.conns {
		conn.Close()
	}
	g.conns = map[*websocket.Conn]*sync.Mutex{}
	g.routes = map[string]*websocket.Conn{}
	g.mu.Unlock()
	close(g.done)
}

// drop forgets a connection and any pending routes to it.
func (g *WSGateway) drop(conn *websocket.Conn) {
	conn.Close()
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
	for id, c := range g.routes {
		if c == conn {
			delete(g.routes, id)
		}
	}
}
