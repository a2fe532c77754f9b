package node

import (
	"time"

	"github.com/ZentaChain/echo-node/pkg/mesh"
	"github.com/ZentaChain/echo-node/pkg/transfer"
)

// EventType names what happened
type EventType string

const (
	EventMessage          EventType = "message"
	EventPeerJoined       EventType = "peer_joined"
	EventPeerLost         EventType = "peer_lost"
	EventPong             EventType = "pong"
	EventTransferProgress EventType = "transfer_progress"
	EventTransferComplete EventType = "transfer_complete"
)

// ChatMessage is a delivered or sent chat line
type ChatMessage struct {
	MessageID   uint32    `json:"message_id"`
	From        string    `json:"from"`
	Fingerprint string    `json:"fingerprint"`
	To          string    `json:"to,omitempty"`
	Content     string    `json:"content"`
	Global      bool      `json:"global"`
	PeerAddress string    `json:"peer_address"`
	SentAt      time.Time `json:"sent_at"`
}

// TransferEvent reports transfer progress or its outcome
type TransferEvent struct {
	TransferID uint32             `json:"transfer_id"`
	Direction  transfer.Direction `json:"direction"`
	Filename   string             `json:"filename,omitempty"`
	Done       int                `json:"done"`
	Total      int                `json:"total"`
	Success    bool               `json:"success"`
}

// Event is one notification for the application layer
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	Message  *ChatMessage   `json:"message,omitempty"`
	Peer     *mesh.PeerInfo `json:"peer,omitempty"`
	Transfer *TransferEvent `json:"transfer,omitempty"`
}
