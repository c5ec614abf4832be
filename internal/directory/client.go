package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"tripresence/internal/models"
)

// Directory resolves users and trip membership from the externally-owned
// trip/user CRUD subsystem over NATS request-reply.
type Directory interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetTripMembers(ctx context.Context, tripID string) ([]string, error)
	Ready(ctx context.Context) error
	Close() error
}

// ErrUserNotFound is returned when the directory has no record of a user.
var ErrUserNotFound = errors.New("user not found")

// ErrTripNotFound is returned when the directory has no record of a trip.
var ErrTripNotFound = errors.New("trip not found")

// Config holds configuration for the directory client
type Config struct {
	ServerURL      string
	SubjectPrefix  string
	Embedded       bool // start an in-process NATS server (dev/test)
	DataDir        string
	RequestTimeout time.Duration
}

// client implements Directory over NATS
type client struct {
	config Config
	server *server.Server
	conn   *nats.Conn
}

// Request/reply payloads for the trip CRUD subsystem.
type userRequest struct {
	UserID string `json:"userId"`
}

type userReply struct {
	Found bool        `json:"found"`
	User  models.User `json:"user"`
}

type tripRequest struct {
	TripID string `json:"tripId"`
}

type tripReply struct {
	Found   bool     `json:"found"`
	Members []string `json:"members"`
}

// NewClient creates a new directory client, starting an embedded NATS
// server first when configured.
func NewClient(config Config) (Directory, error) {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "tripresence"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 3 * time.Second
	}

	c := &client{config: config}

	if config.Embedded {
		if err := c.startEmbeddedServer(); err != nil {
			return nil, fmt.Errorf("failed to start embedded server: %w", err)
		}
	}

	serverURL := c.config.ServerURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}

	conn, err := nats.Connect(serverURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = conn

	return c, nil
}

// GetUser resolves a user record via the users.get subject
func (c *client) GetUser(ctx context.Context, userID string) (models.User, error) {
	var reply userReply
	if err := c.request(ctx, c.subject("users.get"), userRequest{UserID: userID}, &reply); err != nil {
		return models.User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if !reply.Found {
		return models.User{}, ErrUserNotFound
	}
	return reply.User, nil
}

// GetTripMembers resolves the member list of a trip via the trips.get subject
func (c *client) GetTripMembers(ctx context.Context, tripID string) ([]string, error) {
	var reply tripReply
	if err := c.request(ctx, c.subject("trips.get"), tripRequest{TripID: tripID}, &reply); err != nil {
		return nil, fmt.Errorf("failed to look up trip: %w", err)
	}
	if !reply.Found {
		return nil, ErrTripNotFound
	}
	return reply.Members, nil
}

// Ready reports whether the NATS connection is usable
func (c *client) Ready(ctx context.Context) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return errors.New("directory connection unavailable")
	}
	return nil
}

// Close closes the client and shuts down the embedded server if any
func (c *client) Close() error {
	return c.cleanup()
}

func (c *client) subject(op string) string {
	return fmt.Sprintf("%s.%s", c.config.SubjectPrefix, op)
}

// request issues a JSON request-reply call, bounded by the configured
// timeout unless the caller's context expires first.
func (c *client) request(ctx context.Context, subject string, req any, reply any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return nil
}

// startEmbeddedServer starts an in-process NATS server for development
// and tests, so the service can run without external infrastructure.
func (c *client) startEmbeddedServer() error {
	opts := &server.Options{
		Host:       "0.0.0.0",
		Port:       -1, // Random port for client connections
		ServerName: fmt.Sprintf("tripresence-%d", time.Now().UnixNano()),
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return errors.New("embedded server failed to start within 10s")
	}

	c.server = ns
	c.config.ServerURL = ns.ClientURL()
	return nil
}

// cleanup closes connections and shuts down the embedded server
func (c *client) cleanup() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.server != nil {
		c.server.Shutdown()
		c.server.WaitForShutdown()
	}
	return nil
}
