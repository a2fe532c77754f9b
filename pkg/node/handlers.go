package node

import (
	"log"
	"time"

	"github.com/ZentaChain/echo-node/pkg/mesh"
	"github.com/ZentaChain/echo-node/pkg/protocol"
	"github.com/ZentaChain/echo-node/pkg/storage"
	"github.com/ZentaChain/echo-node/pkg/transfer"
	"github.com/ZentaChain/echo-node/pkg/transport"
)

// ===== TRANSPORT EVENTS =====

// transportEvents binds one transport's callbacks to the node so replies
// and floods know which link a peer lives on
type transportEvents struct {
	node      *Node
	transport transport.Transport
}

func (e *transportEvents) OnReceive(address string, data []byte) {
	n := e.node
	n.received.Add(1)
	n.setRoute(address, e.transport)

	msg, err := protocol.DecodeMessage(data)
	if err == nil {
		err = msg.Header.Validate()
	}
	if err != nil {
		n.decodeErrors.Add(1)
		if n.config.Verbose {
			log.Printf("⚠️  Dropped undecodable frame from %s: %v", address, err)
		}
		return
	}
	msg.SourceAddress = address
	msg.ReceivedAt = time.Now()

	n.peers.Touch(address)

	result := n.router.ProcessIncoming(msg, address)
	if n.config.Verbose {
		log.Printf("📥 %s from %s (ttl %d): %s", msg.Header.Type, address, msg.Header.TTL, result)
	}
}

func (e *transportEvents) OnPeer(s transport.PeerSighting) {
	n := e.node
	before, ok := n.peers.Get(s.Address)
	known := ok && before.DisplayName != ""

	n.setRoute(s.Address, e.transport)
	n.peers.AddPeer(s.Address, s.DisplayName)

	if known {
		return
	}

	info, _ := n.peers.Get(s.Address)
	log.Printf("🔗 Discovered %s at %s via %s", s.DisplayName, s.Address, e.transport.Name())
	n.emit(Event{Type: EventPeerJoined, Peer: &info})

	address := s.Address
	n.spawnAfter(n.config.AnnounceDelay, func() {
		msg := protocol.NewAnnounceMessage(n.config.Username, n.config.Fingerprint, n.config.OSType, n.ids)
		if !n.sendTo(msg, address) && n.config.Verbose {
			log.Printf("⚠️  Could not announce to %s", address)
		}
	})
}

func (e *transportEvents) OnPeerLost(address string) {
	n := e.node
	info, known := n.peers.Get(address)

	n.peers.RemovePeer(address)
	n.dropRoute(address, e.transport)

	if known {
		log.Printf("🔗 Lost %s (%s)", info.DisplayName, address)
		n.emit(Event{Type: EventPeerLost, Peer: &info})
	}
}

// ===== ROUTER EVENTS =====

type routerEvents struct {
	node *Node
}

func (e routerEvents) HandleDelivered(msg *protocol.Message, source string) {
	n := e.node

	switch msg.Header.Type {
	case protocol.MsgTypePrivate, protocol.MsgTypeGlobal, protocol.MsgTypeText:
		n.handleText(msg, source)

	case protocol.MsgTypeAnnounce:
		n.handleAnnounce(msg, source)

	case protocol.MsgTypeDiscover:
		reply := protocol.NewAnnounceMessage(n.config.Username, n.config.Fingerprint, n.config.OSType, n.ids)
		n.sendTo(reply, source)

	case protocol.MsgTypePing:
		n.sendTo(protocol.NewPongMessage(n.ids), source)

	case protocol.MsgTypePong:
		n.pongs.Add(1)
		info, _ := n.peers.Get(source)
		n.emit(Event{Type: EventPong, Peer: &info})

	case protocol.MsgTypeFileStart, protocol.MsgTypeFileChunk, protocol.MsgTypeFileEnd:
		if err := n.engine.HandleMessage(msg, source); err != nil {
			log.Printf("⚠️  Transfer message from %s: %v", source, err)
		}

	default:
		if n.config.Verbose {
			log.Printf("Ignoring %s from %s", msg.Header.Type, source)
		}
	}
}

func (e routerEvents) HandleForward(msg *protocol.Message, exclude []string) {
	e.node.flood(msg, exclude)
}

func (n *Node) handleText(msg *protocol.Message, source string) {
	var text protocol.TextMessage
	if err := text.Decode(msg.Payload); err != nil {
		n.decodeErrors.Add(1)
		log.Printf("⚠️  Bad text payload from %s: %v", source, err)
		return
	}

	if !text.IsGlobal && text.RecipientUsername != "" && text.RecipientUsername != n.config.Username {
		n.misaddressed.Add(1)
		if n.config.Verbose {
			log.Printf("Ignoring message for %s from %s", text.RecipientUsername, source)
		}
		return
	}

	chat := &ChatMessage{
		MessageID:   msg.Header.MessageID,
		From:        text.SenderUsername,
		Fingerprint: text.SenderFingerprint,
		To:          text.RecipientUsername,
		Content:     text.Content,
		Global:      text.IsGlobal,
		PeerAddress: source,
		SentAt:      time.Unix(int64(text.Timestamp), 0),
	}

	if text.IsGlobal {
		log.Printf("📬 Global message from %s", chat.From)
	} else {
		log.Printf("📬 Message from %s", chat.From)
	}

	n.record(chat, storage.Incoming)
	n.emit(Event{Type: EventMessage, Message: chat})
}

func (n *Node) handleAnnounce(msg *protocol.Message, source string) {
	var announce protocol.AnnounceMessage
	if err := announce.Decode(msg.Payload); err != nil {
		n.decodeErrors.Add(1)
		log.Printf("⚠️  Bad announce from %s: %v", source, err)
		return
	}

	// Only an unforwarded announce names the neighbour that sent it
	if msg.Header.TTL != protocol.DefaultTTL {
		n.peers.Touch(source)
		return
	}

	before, _ := n.peers.Get(source)
	n.peers.AddPeer(source, announce.Username)

	if before.DisplayName != announce.Username {
		info, _ := n.peers.Get(source)
		log.Printf("🔗 %s announced at %s (%s)", announce.Username, source, announce.OSType)
		n.emit(Event{Type: EventPeerJoined, Peer: &info})
	}
}

// flood sends msg to every active neighbour on every transport except
// the excluded addresses
func (n *Node) flood(msg *protocol.Message, exclude []string) int {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("⚠️  Cannot forward %s: %v", msg.Header.Type, err)
		return 0
	}

	skip := make(map[string]bool, len(exclude))
	for _, addr := range exclude {
		skip[addr] = true
	}

	sent := 0
	for _, addr := range n.peers.ActivePeers() {
		if skip[addr] {
			continue
		}
		t, ok := n.route(addr)
		if !ok {
			continue
		}
		if t.SendUnicast(addr, data) {
			n.sent.Add(1)
			sent++
		} else {
			n.sendFailures.Add(1)
		}
	}

	if n.config.Verbose {
		log.Printf("📤 Forwarded %s to %d peer(s)", msg.Header.Type, sent)
	}
	return sent
}

func (n *Node) record(chat *ChatMessage, direction storage.Direction) {
	if n.journal == nil {
		return
	}
	_, err := n.journal.RecordMessage(&storage.ChatRecord{
		MessageID:   chat.MessageID,
		Direction:   direction,
		Global:      chat.Global,
		Sender:      chat.From,
		Fingerprint: chat.Fingerprint,
		Recipient:   chat.To,
		PeerAddress: chat.PeerAddress,
		Content:     chat.Content,
		SentAt:      chat.SentAt,
	})
	if err != nil {
		log.Printf("⚠️  Failed to journal message: %v", err)
	}
}

// ===== TRANSFER EVENTS =====

type transferEvents struct {
	node *Node
}

func (e transferEvents) TransferProgress(transferID uint32, done, total int) {
	e.node.emit(Event{
		Type: EventTransferProgress,
		Transfer: &TransferEvent{
			TransferID: transferID,
			Direction:  e.direction(transferID),
			Done:       done,
			Total:      total,
		},
	})
}

func (e transferEvents) TransferComplete(transferID uint32, filename string, success bool) {
	n := e.node
	direction := e.direction(transferID)

	if n.journal != nil {
		journalDir := storage.Incoming
		if direction == transfer.Sending {
			journalDir = storage.Outgoing
		}
		err := n.journal.RecordTransfer(&storage.TransferRecord{
			TransferID: transferID,
			Direction:  journalDir,
			Filename:   filename,
			Success:    success,
		})
		if err != nil {
			log.Printf("⚠️  Failed to journal transfer: %v", err)
		}
	}

	n.emit(Event{
		Type: EventTransferComplete,
		Transfer: &TransferEvent{
			TransferID: transferID,
			Direction:  direction,
			Filename:   filename,
			Success:    success,
		},
	})
}

// direction relies on the engine keeping a send registered until its
// completion callback has returned
func (e transferEvents) direction(transferID uint32) transfer.Direction {
	for _, s := range e.node.engine.ActiveSends() {
		if s.TransferID == transferID {
			return transfer.Sending
		}
	}
	return transfer.Receiving
}

var _ mesh.Handler = routerEvents{}
var _ transfer.Listener = transferEvents{}
