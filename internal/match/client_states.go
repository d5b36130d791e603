package match

import (
	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/logging"
)

// clientConnected waits for the server to assign the local player.
type clientConnected struct{ client *Client }

func newClientConnected(c *Client) *clientConnected { return &clientConnected{client: c} }

func (st *clientConnected) Kind() fsm.Kind { return KindClientConnected }

func (st *clientConnected) Initialize() {
	st.client.logger.Info("connected to server")
}

func (st *clientConnected) Update() {
	c := st.client
	if c.linkLost() {
		c.machine.SwapState(newClientEndSession(c))
		return
	}
	if c.localID != "" {
		c.machine.SwapState(newClientInGame(c))
	}
}

func (st *clientConnected) Teardown() {}

// clientInGame polls the link every tick and ends the session once it is gone.
type clientInGame struct {
	client   *Client
	attempts int
	degraded bool
}

func newClientInGame(c *Client) *clientInGame { return &clientInGame{client: c} }

func (st *clientInGame) Kind() fsm.Kind { return KindClientInGame }

func (st *clientInGame) Initialize() {
	st.client.logger.Info("entered game", logging.String("player_id", st.client.localID))
}

func (st *clientInGame) Update() {
	c := st.client
	if st.degraded {
		return
	}
	//1.- A missing link is looked up again every tick until the retry budget runs out.
	if c.resolveLink() == nil {
		st.attempts++
		if st.attempts >= c.retries {
			st.degraded = true
			c.logger.Error("no transport link after retries", logging.Int("attempts", st.attempts))
		}
		return
	}
	st.attempts = 0
	if c.linkLost() {
		c.machine.SwapState(newClientEndSession(c))
	}
}

func (st *clientInGame) Teardown() {}

// clientEndSession releases everything the client held for the session.
type clientEndSession struct{ client *Client }

func newClientEndSession(c *Client) *clientEndSession { return &clientEndSession{client: c} }

func (st *clientEndSession) Kind() fsm.Kind { return KindClientEndSession }

func (st *clientEndSession) Initialize() {
	st.client.logger.Info("session ended")
	st.client.release()
}

func (st *clientEndSession) Update() {}

func (st *clientEndSession) Teardown() {}
