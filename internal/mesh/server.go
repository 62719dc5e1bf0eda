package mesh

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	sllogging "github.com/logline-run/logline/infrastructure/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 15 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMissedPings = 3
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// link is one accepted or dialed websocket connection and its write queue.
type link struct {
	name    string
	conn    *websocket.Conn
	send    chan Envelope
	closeCh chan struct{}
	closeOn sync.Once
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn:    conn,
		send:    make(chan Envelope, 64),
		closeCh: make(chan struct{}),
	}
}

func (l *link) close() {
	l.closeOn.Do(func() {
		close(l.closeCh)
		_ = l.conn.Close()
	})
}

// Hub accepts inbound mesh connections (Gateway's /ws endpoint and the
// service-to-service links any component exposes) and fans envelopes out
// to registered handlers by message type.
type Hub struct {
	self     string
	logger   *sllogging.Logger
	mu       sync.RWMutex
	peers    map[string]*link
	handlers map[MessageType]Handler
	fallback Handler
}

// NewHub constructs a Hub named self. The hub sends no hello of its own;
// it learns each peer's name from that peer's service_hello.
func NewHub(self string, logger *sllogging.Logger) *Hub {
	return &Hub{
		self:     self,
		logger:   logger,
		peers:    make(map[string]*link),
		handlers: make(map[MessageType]Handler),
	}
}

// OnMessage registers the handler invoked for envelopes of type t.
func (h *Hub) OnMessage(t MessageType, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = fn
}

// OnUnhandled registers a catch-all invoked for any type without a
// dedicated handler — used by Gateway to route unknown spans verbatim.
func (h *Hub) OnUnhandled(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = fn
}

// ServeHTTP upgrades the request to a websocket connection and runs the
// link until it disconnects. Mount this at the mesh listen path (/mesh on
// internal services, /ws on the Gateway).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("mesh: upgrade failed")
		return
	}
	l := newLink(conn)
	go h.writePump(l)
	h.readPump(l)
}

// Peers returns the names of currently connected remotes.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.peers))
	for name := range h.peers {
		names = append(names, name)
	}
	return names
}

// Send delivers env to the named peer. Returns false if the peer is not
// currently connected.
func (h *Hub) Send(peer string, env Envelope) bool {
	h.mu.RLock()
	l, ok := h.peers[peer]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case l.send <- env:
		return true
	default:
		h.logger.WithField("peer", peer).Warn("mesh: send queue full, dropping link")
		l.close()
		return false
	}
}

// Broadcast delivers env to every connected peer.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	links := make([]*link, 0, len(h.peers))
	for _, l := range h.peers {
		links = append(links, l)
	}
	h.mu.RUnlock()
	for _, l := range links {
		select {
		case l.send <- env:
		default:
			l.close()
		}
	}
}

func (h *Hub) register(name string, l *link) {
	h.mu.Lock()
	h.peers[name] = l
	h.mu.Unlock()
}

func (h *Hub) unregister(name string) {
	if name == "" {
		return
	}
	h.mu.Lock()
	delete(h.peers, name)
	h.mu.Unlock()
	h.dispatch(name, NewEnvelope(ServiceMessage{Type: TypeConnectionLost, Peer: name}))
}

func (h *Hub) dispatch(name string, env Envelope) {
	h.mu.RLock()
	fn, ok := h.handlers[env.Payload.Type]
	fallback := h.fallback
	h.mu.RUnlock()
	if ok {
		fn(name, env)
		return
	}
	if fallback != nil {
		fallback(name, env)
	}
}

func (h *Hub) readPump(l *link) {
	defer func() {
		h.unregister(l.name)
		l.close()
	}()

	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := Decode(data)
		if err != nil {
			h.logger.WithError(err).Warn("mesh: dropping malformed frame")
			continue
		}
		if env.Payload.Type == TypeServiceHello && l.name == "" {
			l.name = env.Payload.Sender
			h.register(l.name, l)
		}
		h.dispatch(l.name, env)
	}
}

func (h *Hub) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	missed := 0
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-l.send:
			if !ok {
				return
			}
			data, err := Encode(env)
			if err != nil {
				continue
			}
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				missed++
				if missed >= maxMissedPings {
					return
				}
				continue
			}
			missed = 0
		case <-l.closeCh:
			return
		}
	}
}
