package protocol

// ===== ANNOUNCE =====

// AnnounceMessage advertises a peer's identity to the mesh
type AnnounceMessage struct {
	Username        string
	Fingerprint     string
	OSType          string
	ProtocolVersion uint16
}

// Encode encodes announce message to bytes
func (m *AnnounceMessage) Encode() []byte {
	e := &encoder{}
	e.string(m.Username)
	e.string(m.Fingerprint)
	e.string(m.OSType)
	e.uint16(m.ProtocolVersion)
	return e.buf
}

// Decode decodes announce message from bytes
func (m *AnnounceMessage) Decode(buf []byte) error {
	d := &decoder{buf: buf}
	m.Username = d.string("username")
	m.Fingerprint = d.string("fingerprint")
	m.OSType = d.string("os type")
	m.ProtocolVersion = d.uint16("protocol version")
	return d.err
}

// NewAnnounceMessage builds a flood-eligible presence announcement
func NewAnnounceMessage(username, fingerprint, osType string, ids IDGenerator) *Message {
	announce := &AnnounceMessage{
		Username:        username,
		Fingerprint:     fingerprint,
		OSType:          osType,
		ProtocolVersion: uint16(ProtocolVersion),
	}
	return NewMessage(MsgTypeAnnounce, announce.Encode(), ids)
}
