package match

import (
	"fmt"
	"time"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
)

// LocalConnID is the connection identifier of the host's own player.
const LocalConnID = "local"

// Coordinator runs the client and server roles of a host in one tick. The order is
// fixed: the client ticks first, then the server, so commands the local player sends
// are applied in the same tick and the resulting state reaches the client on the next.
type Coordinator struct {
	client *Client
	server *Server
	link   *command.Loopback
	logger *logging.Logger
}

// NewCoordinator pairs a client and a server. Either may be nil for a dedicated role.
func NewCoordinator(client *Client, server *Server, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.L()
	}
	return &Coordinator{client: client, server: server, logger: logger}
}

// Client returns the client role, nil on a dedicated server.
func (c *Coordinator) Client() *Client { return c.client }

// Server returns the server role, nil on a pure client.
func (c *Coordinator) Server() *Server { return c.server }

// JoinLocal seats the host's own player through an in-process link.
func (c *Coordinator) JoinLocal(version float64) (Seat, error) {
	if c.client == nil || c.server == nil {
		return Seat{}, fmt.Errorf("local join needs both roles")
	}
	link := command.NewLoopback(LocalConnID, c.server.Inbox())
	seat, err := c.server.Join(LocalConnID, version, link)
	if err != nil {
		return Seat{}, err
	}
	link.Welcome(c.server.ProtocolVersion())
	c.link = link
	c.client.OnClientConnect(link)
	c.client.AssignLocal(seat.PlayerID)
	return seat, nil
}

// LeaveLocal closes the in-process link and frees the host's seat.
func (c *Coordinator) LeaveLocal() error {
	if c.link == nil {
		return nil
	}
	c.link.Close()
	c.link = nil
	return c.server.Leave(LocalConnID)
}

// Tick advances both roles by dt: client, then server.
func (c *Coordinator) Tick(dt time.Duration) {
	if c.client != nil {
		c.contain("client", func() { c.client.Tick(dt) })
	}
	if c.server != nil {
		c.contain("server", func() { c.server.Tick(dt) })
	}
}

func (c *Coordinator) contain(role string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("role tick panicked", logging.String("role", role), logging.Any("panic", r))
		}
	}()
	fn()
}
