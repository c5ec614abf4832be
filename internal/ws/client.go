package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tripresence/internal/metrics"
	"tripresence/internal/models"
	"tripresence/internal/registry"
)

// Options bounds the connection pumps.
type Options struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultOptions returns conservative pump settings.
func DefaultOptions() Options {
	return Options{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Client is one live websocket connection with its bound identity.
type Client struct {
	ID       string
	Identity models.Identity

	hub      *Hub
	registry *registry.Registry
	conn     *websocket.Conn
	send     chan []byte
	opts     Options
	logger   *slog.Logger

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection with its identity.
func NewClient(id string, identity models.Identity, conn *websocket.Conn, hub *Hub, reg *registry.Registry, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	return &Client{
		ID:       id,
		Identity: identity,
		hub:      hub,
		registry: reg,
		conn:     conn,
		send:     make(chan []byte, opts.SendBuffer),
		opts:     opts,
		logger:   logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Run starts the write pump and blocks on the read pump until the
// connection is gone. Cleanup runs exactly once per connection loss:
// the hub unregistration and the registry disconnect sweep complete
// before Run returns, so a reconnect always starts as a fresh session.
func (c *Client) Run() {
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	go c.writePump()
	c.readPump()

	c.hub.Unregister(c)
	c.registry.Disconnect(c.ID)
}

// readPump decodes client event frames and dispatches them until the
// connection closes.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "conn", c.ID, "err", err)
			}
			return
		}

		var envelope models.Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.sendError("Invalid message format")
			continue
		}
		c.dispatch(envelope)
	}
}

// dispatch routes one client event to the registry.
func (c *Client) dispatch(envelope models.Envelope) {
	var err error
	switch envelope.Event {
	case models.EventStartSharing:
		err = c.handleStartSharing(envelope.Data)
	case models.EventSendLocation:
		err = c.handleSendLocation(envelope.Data)
	case models.EventStopSharing:
		err = c.handleStopSharing(envelope.Data)
	default:
		c.logger.Debug("ignoring unknown event", "conn", c.ID, "event", envelope.Event)
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
		c.sendError(errorMessage(err))
	}
	metrics.EventProcessed(envelope.Event, result)
}

func (c *Client) handleStartSharing(data json.RawMessage) error {
	var req models.StartSharingRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TripID == "" {
		return errMalformedPayload
	}
	return c.registry.StartSharing(context.Background(), req.TripID, c.Identity, c.ID)
}

func (c *Client) handleSendLocation(data json.RawMessage) error {
	var req models.SendLocationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TripID == "" {
		return errMalformedPayload
	}

	loc := models.Location{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
	}
	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	return c.registry.UpdateLocation(context.Background(), req.TripID, c.Identity, c.ID, loc, ts)
}

func (c *Client) handleStopSharing(data json.RawMessage) error {
	var req models.StartSharingRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TripID == "" {
		return errMalformedPayload
	}
	c.registry.StopSharing(req.TripID, c.Identity, c.ID)
	return nil
}

// errMalformedPayload covers frames whose payload cannot be decoded or
// that lack a trip id.
var errMalformedPayload = errors.New("malformed event payload")

// errorMessage maps registry errors to the client-facing message.
func errorMessage(err error) string {
	var denied *registry.AccessDeniedError
	if errors.As(err, &denied) {
		return "Access denied to this trip"
	}
	var invalid *registry.InvalidLocationError
	if errors.As(err, &invalid) {
		return "Invalid location coordinates"
	}
	return "Failed to process location event"
}

// sendError reports a failure to this connection only.
func (c *Client) sendError(message string) {
	c.hub.EmitToConnection(c.ID, models.EventLocationError, models.ErrorEvent{Message: message})
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
