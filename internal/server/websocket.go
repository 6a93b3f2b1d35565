package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096

	// clientBufferSize bounds queued updates per client; slower clients lose updates
	clientBufferSize = 64
)

// ResultHub streams analyzer updates to websocket clients
type ResultHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool
	wg      sync.WaitGroup
}

type wsClient struct {
	id       string
	analyzer *lipsync.Analyzer
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopped  <-chan struct{}
	once     sync.Once
}

// controlMessage is a request sent by a websocket client
type controlMessage struct {
	Type  string `json:"type"`
	Vowel string `json:"vowel,omitempty"`
}

// replyMessage answers hello and control requests
type replyMessage struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id,omitempty"`
	AnalyzerID string `json:"analyzer_id,omitempty"`
	Vowel      string `json:"vowel,omitempty"`
	Count      uint64 `json:"count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewResultHub creates an empty hub
func NewResultHub(logger *slog.Logger, m *metrics.Metrics) *ResultHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Animation clients are usually local tools without a browser origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: make(map[string]*wsClient),
	}
}

// Serve upgrades the request and streams updates of a until the client
// disconnects or the analyzer stops
func (h *ResultHub) Serve(w http.ResponseWriter, r *http.Request, a *lipsync.Analyzer) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	client := &wsClient{
		id:       uuid.New().String(),
		analyzer: a,
		conn:     conn,
		send:     make(chan []byte, clientBufferSize),
		done:     make(chan struct{}),
		stopped:  a.Done(),
	}

	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Info("WebSocket client connected",
		slog.String("client_id", client.id),
		slog.String("analyzer_id", a.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	h.queue(client, replyMessage{Type: "hello", ClientID: client.id, AnalyzerID: a.ID})

	unsubscribe := a.Subscribe(func(u lipsync.Update) {
		h.queue(client, newUpdateMessage(u))
	})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writeLoop(client)
	}()

	h.readLoop(client)

	unsubscribe()
	h.unregister(client)

	h.logger.Info("WebSocket client disconnected",
		slog.String("client_id", client.id),
		slog.String("analyzer_id", a.ID),
	)
}

// ClientCount returns the number of connected clients
func (h *ResultHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their writers to exit
func (h *ResultHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
	h.wg.Wait()
}

func (h *ResultHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.SetWebsocketClients(len(h.clients))
	return true
}

func (h *ResultHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.metrics.SetWebsocketClients(len(h.clients))
	h.mu.Unlock()

	c.close()
}

// queue encodes msg and hands it to the client writer without blocking.
// It runs on the analyzer's tick goroutine, so a full buffer drops the message.
func (h *ResultHub) queue(c *wsClient, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", slog.String("error", err.Error()))
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
		h.metrics.RecordWebsocketMessage()
	default:
		h.metrics.RecordWebsocketDropped()
		h.logger.Debug("WebSocket client buffer full, dropping message",
			slog.String("client_id", c.id),
		)
	}
}

// readLoop handles control messages until the connection fails
func (h *ResultHub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.queue(c, replyMessage{Type: "error", Error: "invalid message"})
			continue
		}
		h.handleControl(c, msg)
	}
}

func (h *ResultHub) handleControl(c *wsClient, msg controlMessage) {
	switch msg.Type {
	case "calibrate":
		v, err := profile.ParseVowel(msg.Vowel)
		if err != nil {
			h.queue(c, replyMessage{Type: "error", Error: err.Error()})
			return
		}
		if err := c.analyzer.Calibrate(v); err != nil {
			h.queue(c, replyMessage{Type: "error", Vowel: v.String(), Error: calibrationError(err)})
			return
		}
		h.queue(c, replyMessage{
			Type:  "calibrated",
			Vowel: v.String(),
			Count: c.analyzer.Profile().Count(v),
		})
	case "ping":
		h.queue(c, replyMessage{Type: "pong"})
	default:
		h.queue(c, replyMessage{Type: "error", Error: "unknown message type " + msg.Type})
	}
}

// writeLoop owns all writes to the connection
func (h *ResultHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write failed",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.stopped:
			h.logger.Debug("Analyzer stopped, closing websocket client",
				slog.String("client_id", c.id),
				slog.String("analyzer_id", c.analyzer.ID),
			)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "analyzer stopped"),
				time.Now().Add(writeWait))
			c.close()
			return
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func calibrationError(err error) string {
	switch {
	case errors.Is(err, lipsync.ErrNoFeatures):
		return "no features published yet"
	case errors.Is(err, lipsync.ErrStopped):
		return "analyzer is stopped"
	default:
		return err.Error()
	}
}
