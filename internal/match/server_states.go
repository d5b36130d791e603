package match

import (
	"hamsterball/coordinator/internal/fsm"
	"hamsterball/coordinator/internal/logging"
)

// serverStartup waits for the transport to come up. It retries the lookup every tick
// and goes quiet after a bounded number of attempts.
type serverStartup struct {
	server   *Server
	attempts int
	degraded bool
}

func newServerStartup(s *Server) *serverStartup { return &serverStartup{server: s} }

func (st *serverStartup) Kind() fsm.Kind { return KindServerStartup }

func (st *serverStartup) Initialize() {
	st.attempts = 0
	st.degraded = false
}

func (st *serverStartup) Update() {
	if st.degraded {
		return
	}
	listener := st.server.resolveListener()
	if listener != nil && listener.Listening() {
		st.server.machine.SwapState(newServerListen(st.server))
		return
	}
	st.attempts++
	if st.attempts >= st.server.startupRetries {
		//1.- Report once and stop polling; the server stays in pre game.
		st.degraded = true
		st.server.logger.Error("transport never started listening",
			logging.Int("attempts", st.attempts))
	}
}

func (st *serverStartup) Teardown() {}

// serverListen waits for the first player.
type serverListen struct{ server *Server }

func newServerListen(s *Server) *serverListen { return &serverListen{server: s} }

func (st *serverListen) Kind() fsm.Kind { return KindServerListen }

func (st *serverListen) Initialize() {
	st.server.logger.Info("listening for clients")
}

func (st *serverListen) Update() {
	if st.server.roster.Size() > 0 {
		//1.- Evaluate the lobby at once so a full roster opens on the tick it fills.
		lobby := newServerPreOpenMatch(st.server)
		st.server.machine.SwapState(lobby)
		lobby.Update()
	}
}

func (st *serverListen) Teardown() {}

// serverPreOpenMatch is the lobby: players gather until the start threshold.
type serverPreOpenMatch struct{ server *Server }

func newServerPreOpenMatch(s *Server) *serverPreOpenMatch { return &serverPreOpenMatch{server: s} }

func (st *serverPreOpenMatch) Kind() fsm.Kind { return KindServerPreOpenMatch }

func (st *serverPreOpenMatch) Initialize() {}

func (st *serverPreOpenMatch) Update() {
	s := st.server
	n := s.roster.Size()
	switch {
	case n <= 0:
		s.machine.SwapState(newServerEndPreGameplay(s))
	case n >= s.roster.Capacity().StartThreshold && !s.matchmakerActive():
		s.machine.SwapState(newServerOpenMatch(s))
	}
}

func (st *serverPreOpenMatch) Teardown() {}

// serverOpenMatch runs the match until everyone finishes or the room empties.
type serverOpenMatch struct{ server *Server }

func newServerOpenMatch(s *Server) *serverOpenMatch { return &serverOpenMatch{server: s} }

func (st *serverOpenMatch) Kind() fsm.Kind { return KindServerOpenMatch }

func (st *serverOpenMatch) Initialize() {
	st.server.beginMatch()
}

func (st *serverOpenMatch) Update() {
	s := st.server
	n := s.roster.Size()
	switch {
	case n <= 0:
		s.machine.SwapState(newServerEndPreGameplay(s))
	case n < s.roster.Capacity().StartThreshold && !s.matchmakerActive():
		s.logger.Info("player count fell below threshold, reopening lobby", logging.Int("players", n))
		s.machine.SwapState(newServerPreOpenMatch(s))
	case s.everyoneFinished():
		s.machine.SwapState(newServerMatchComplete(s))
	}
}

func (st *serverOpenMatch) Teardown() {}

// serverMatchComplete holds the results until the room empties.
type serverMatchComplete struct{ server *Server }

func newServerMatchComplete(s *Server) *serverMatchComplete { return &serverMatchComplete{server: s} }

func (st *serverMatchComplete) Kind() fsm.Kind { return KindServerMatchComplete }

func (st *serverMatchComplete) Initialize() {
	snapshot := st.server.roster.Snapshot()
	st.server.logger.Info("match complete",
		logging.String("match_id", snapshot.MatchID),
		logging.Any("finish_times", snapshot.FinishTimes))
	st.server.event("match_complete", snapshot)
}

func (st *serverMatchComplete) Update() {
	if st.server.roster.Size() <= 0 {
		st.server.machine.SwapState(newServerEndPreGameplay(st.server))
	}
}

func (st *serverMatchComplete) Teardown() {}

// serverEndPreGameplay closes the session. A later join starts a new one.
type serverEndPreGameplay struct{ server *Server }

func newServerEndPreGameplay(s *Server) *serverEndPreGameplay {
	return &serverEndPreGameplay{server: s}
}

func (st *serverEndPreGameplay) Kind() fsm.Kind { return KindServerEndPreGameplay }

func (st *serverEndPreGameplay) Initialize() {
	st.server.logger.Info("session ended", logging.String("match_id", st.server.roster.MatchID()))
}

func (st *serverEndPreGameplay) Update() {
	s := st.server
	if s.roster.Size() > 0 {
		id := s.roster.Renew()
		s.logger.Info("new session", logging.String("match_id", id))
		lobby := newServerPreOpenMatch(s)
		s.machine.SwapState(lobby)
		lobby.Update()
	}
}

func (st *serverEndPreGameplay) Teardown() {}
