package lan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/multiformats/go-multiaddr"
)

// PresenceVersion is the only presence datagram version understood
const PresenceVersion = 1

var (
	ErrBadPresence = errors.New("malformed presence datagram")
	ErrBadAddress  = errors.New("not an /ip4/.../tcp/... address")
)

// Presence is the periodic UDP announcement of a node on the local network
type Presence struct {
	Username    string
	Fingerprint string
	TCPPort     uint16
}

// Encode encodes presence as version | uLen | username | fLen | fingerprint | tcpPort.
// Fields longer than 255 bytes are cut.
func (p *Presence) Encode() []byte {
	username := clip(p.Username)
	fingerprint := clip(p.Fingerprint)

	buf := make([]byte, 0, 1+1+len(username)+1+len(fingerprint)+2)
	buf = append(buf, PresenceVersion)
	buf = append(buf, byte(len(username)))
	buf = append(buf, username...)
	buf = append(buf, byte(len(fingerprint)))
	buf = append(buf, fingerprint...)
	buf = binary.BigEndian.AppendUint16(buf, p.TCPPort)
	return buf
}

// DecodePresence parses a presence datagram
func DecodePresence(buf []byte) (*Presence, error) {
	if len(buf) < 5 || buf[0] != PresenceVersion {
		return nil, ErrBadPresence
	}

	offset := 1
	uLen := int(buf[offset])
	offset++
	if len(buf) < offset+uLen+1 {
		return nil, fmt.Errorf("%w: username overruns datagram", ErrBadPresence)
	}
	username := string(buf[offset : offset+uLen])
	offset += uLen

	fLen := int(buf[offset])
	offset++
	if len(buf) < offset+fLen+2 {
		return nil, fmt.Errorf("%w: fingerprint overruns datagram", ErrBadPresence)
	}
	fingerprint := string(buf[offset : offset+fLen])
	offset += fLen

	return &Presence{
		Username:    username,
		Fingerprint: fingerprint,
		TCPPort:     binary.BigEndian.Uint16(buf[offset : offset+2]),
	}, nil
}

func clip(s string) string {
	if len(s) > 255 {
		return s[:255]
	}
	return s
}

// PeerAddress formats a peer's stream endpoint as /ip4/<ip>/tcp/<port>
func PeerAddress(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("%w: %s is not IPv4", ErrBadAddress, ip)
	}
	maddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip4, port))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	return maddr.String(), nil
}

// DialAddress turns a peer address back into host:port
func DialAddress(address string) (string, error) {
	maddr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}

	ip, err := maddr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadAddress, address)
	}
	port, err := maddr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadAddress, address)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadAddress, address)
	}

	return net.JoinHostPort(ip, port), nil
}
