// Package wsnet carries the session over websockets: JSON envelopes, one hello from
// the client, one welcome from the server, then commands up and sync batches down.
package wsnet

import (
	"hamsterball/coordinator/internal/command"
)

// Envelope types.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeCommand = "command"
	TypeSync    = "sync"
)

// Envelope is the only message shape on the socket.
type Envelope struct {
	Type            string             `json:"type"`
	ProtocolVersion float64            `json:"protocol_version,omitempty"`
	PlayerID        string             `json:"player_id,omitempty"`
	Slot            int                `json:"slot,omitempty"`
	Command         *command.Command   `json:"command,omitempty"`
	Sync            *command.SyncBatch `json:"sync,omitempty"`
}
