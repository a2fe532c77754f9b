package node

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ZentaChain/echo-node/pkg/protocol"
	"github.com/ZentaChain/echo-node/pkg/storage"
)

// SendText sends a private message to a neighbour named by username or
// address. Private messages are never flooded, so the recipient must be
// directly reachable.
func (n *Node) SendText(to, content string) (uint32, error) {
	if content == "" {
		return 0, ErrEmptyMessage
	}
	address, name, err := n.resolve(to)
	if err != nil {
		return 0, err
	}

	msg := protocol.NewTextMessage(content, n.config.Username, n.config.Fingerprint, name, false, n.ids)
	if !n.sendTo(msg, address) {
		return 0, fmt.Errorf("%w: %s", ErrSendFailed, to)
	}

	n.record(&ChatMessage{
		MessageID:   msg.Header.MessageID,
		From:        n.config.Username,
		Fingerprint: n.config.Fingerprint,
		To:          name,
		Content:     content,
		PeerAddress: address,
		SentAt:      time.Unix(int64(msg.Header.Timestamp), 0),
	}, storage.Outgoing)

	return msg.Header.MessageID, nil
}

// SendGlobal floods a chat line to the whole mesh
func (n *Node) SendGlobal(content string) (uint32, error) {
	if content == "" {
		return 0, ErrEmptyMessage
	}

	msg := protocol.NewTextMessage(content, n.config.Username, n.config.Fingerprint, "", true, n.ids)
	if n.broadcast(msg) == 0 {
		return 0, ErrSendFailed
	}

	n.record(&ChatMessage{
		MessageID:   msg.Header.MessageID,
		From:        n.config.Username,
		Fingerprint: n.config.Fingerprint,
		Content:     content,
		Global:      true,
		SentAt:      time.Unix(int64(msg.Header.Timestamp), 0),
	}, storage.Outgoing)

	return msg.Header.MessageID, nil
}

// Announce broadcasts this node's identity on every transport
func (n *Node) Announce() error {
	msg := protocol.NewAnnounceMessage(n.config.Username, n.config.Fingerprint, n.config.OSType, n.ids)
	if n.broadcast(msg) == 0 {
		return ErrSendFailed
	}
	return nil
}

// Discover asks every reachable node to announce itself
func (n *Node) Discover() error {
	if n.broadcast(protocol.NewMessage(protocol.MsgTypeDiscover, nil, n.ids)) == 0 {
		return ErrSendFailed
	}
	return nil
}

// Ping sends a PING to a neighbour; the PONG arrives as an event
func (n *Node) Ping(to string) error {
	address, _, err := n.resolve(to)
	if err != nil {
		return err
	}
	if !n.sendTo(protocol.NewPingMessage(n.ids), address) {
		return fmt.Errorf("%w: %s", ErrSendFailed, to)
	}
	return nil
}

// SendFile streams the file at path to a neighbour. It blocks until the
// transfer finishes or ctx ends.
func (n *Node) SendFile(ctx context.Context, path, to string) (uint32, error) {
	address, name, err := n.resolve(to)
	if err != nil {
		return 0, err
	}
	return n.engine.StartFileSend(ctx, path, name, address, n.config.Username)
}

// resolve maps a username or transport address to (address, username).
// Active peers win over stale ones carrying the same name.
func (n *Node) resolve(to string) (string, string, error) {
	if info, ok := n.peers.Get(to); ok {
		return info.Address, info.DisplayName, nil
	}

	var (
		match  string
		active bool
	)
	for _, info := range n.peers.Peers() {
		if info.DisplayName != to {
			continue
		}
		isActive := n.peers.IsActive(info.Address)
		if match == "" || (isActive && !active) {
			match, active = info.Address, isActive
		}
	}
	if match == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	return match, to, nil
}

// sendTo delivers a locally originated message to one neighbour
func (n *Node) sendTo(msg *protocol.Message, address string) bool {
	n.router.PrepareForRouting(msg)

	data, err := msg.Encode()
	if err != nil {
		log.Printf("⚠️  Cannot encode %s: %v", msg.Header.Type, err)
		n.sendFailures.Add(1)
		return false
	}

	t, ok := n.route(address)
	if !ok || !t.SendUnicast(address, data) {
		n.sendFailures.Add(1)
		return false
	}

	n.sent.Add(1)
	return true
}

// broadcast hands a locally originated message to every transport and
// reports how many accepted it
func (n *Node) broadcast(msg *protocol.Message) int {
	n.router.PrepareForRouting(msg)

	data, err := msg.Encode()
	if err != nil {
		log.Printf("⚠️  Cannot encode %s: %v", msg.Header.Type, err)
		n.sendFailures.Add(1)
		return 0
	}

	accepted := 0
	for _, t := range n.transports {
		if t.SendBroadcast(data) {
			accepted++
		}
	}

	if accepted == 0 {
		n.sendFailures.Add(1)
	} else {
		n.sent.Add(1)
	}
	return accepted
}
