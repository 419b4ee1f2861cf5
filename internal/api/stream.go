package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"workbench/internal/session"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4096
)

// streamMessage is one websocket frame. State updates carry the full session
// state; run updates carry the snapshot.
type streamMessage struct {
	session.Update
	State *session.State `json:"state,omitempty"`
}

// streamer pushes session updates to websocket clients. Clients only listen;
// anything they send is discarded.
type streamer struct {
	session      *session.Session
	pingInterval time.Duration
	logger       *log.Logger
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newStreamer(s *session.Session, ping time.Duration, logger *log.Logger) *streamer {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &streamer{
		session:      s,
		pingInterval: ping,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds to loopback by default.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

func (st *streamer) handle(c echo.Context) error {
	conn, err := st.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		st.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	st.mu.Lock()
	st.conns[conn] = struct{}{}
	st.mu.Unlock()

	updates, cancel := st.session.Subscribe()
	done := make(chan struct{})
	go st.readPump(conn, done)
	go st.writePump(conn, updates, cancel, done)
	return nil
}

// readPump consumes control frames until the peer goes away.
func (st *streamer) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(2 * st.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * st.pingInterval))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (st *streamer) writePump(conn *websocket.Conn, updates <-chan session.Update, cancel func(), done <-chan struct{}) {
	ticker := time.NewTicker(st.pingInterval)
	defer func() {
		ticker.Stop()
		cancel()
		st.drop(conn)
	}()

	state := st.session.State()
	if err := st.write(conn, streamMessage{Update: session.Update{Kind: session.UpdateState, At: time.Now().UTC()}, State: &state}); err != nil {
		return
	}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			msg := streamMessage{Update: u}
			if u.Kind == session.UpdateState {
				state := st.session.State()
				msg.State = &state
			}
			if err := st.write(conn, msg); err != nil {
				st.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (st *streamer) write(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (st *streamer) drop(conn *websocket.Conn) {
	st.mu.Lock()
	delete(st.conns, conn)
	st.mu.Unlock()
	_ = conn.Close()
}

func (st *streamer) closeAll() {
	st.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(st.conns))
	for conn := range st.conns {
		conns = append(conns, conn)
	}
	st.mu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
