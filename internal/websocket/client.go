package websocket

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"prolicense/internal/infrastructure"
)

// Heartbeat timing. The peer must answer a ping within pongTimeout.
const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingEvery    = pongTimeout * 9 / 10

	// clients only send control frames
	inboundLimit = 512

	sendBuffer = 32
)

// Client is one subscriber of the license event stream. The hub owns send
// and closes it when the client is dropped.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger
}

func NewClient(hub *Hub, conn Connection, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          uuid.NewString(),
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
	}
	c.logger = logger.With(slog.String("component", "websocket.client"), slog.String("client_id", c.id))
	return c
}

func (c *Client) ID() string { return c.id }

// Serve registers a client for conn with hub and runs it until either side
// goes away.
func Serve(hub *Hub, conn Connection, logger *slog.Logger) *Client {
	c := NewClient(hub, conn, logger)
	hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// readLoop only exists to process pongs and notice the peer leaving
func (c *Client) readLoop() {
	defer c.hub.Unregister(c)
	defer c.conn.Close()

	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongTimeout)) }
	c.conn.SetReadLimit(inboundLimit)
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			c.logger.Warn("Event stream closed unexpectedly", slog.String("error", err.Error()))
		}
		return
	}
}

func (c *Client) writeLoop() {
	pings := time.NewTicker(pingEvery)
	defer pings.Stop()
	defer c.conn.Close()

	for {
		var (
			kind    int
			payload []byte
		)
		select {
		case data, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			kind, payload = websocket.TextMessage, data
		case <-pings.C:
			kind = websocket.PingMessage
		}

		if err := c.write(kind, payload); err != nil {
			c.logger.Debug("Event stream write failed", slog.Int("frame", kind), slog.String("error", err.Error()))
			return
		}
	}
}

func (c *Client) write(kind int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, payload)
}
