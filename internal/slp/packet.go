package slp

import "encoding/binary"

// Framing selects whether the handshake packet carries the strict
// Minecraft-protocol outer VarInt length prefix. The reference scanner
// this system is modeled on omits it and most servers still reply; a
// strictly conformant client would prepend it. Both are byte-exact
// implementations of spec.md §4.2/§9; neither is "more correct" for this
// scanner's purposes, so it is a configuration choice.
type Framing int

const (
	// FramingUnframed writes the handshake body directly onto the wire,
	// with no outer length prefix. This is the reference source's
	// behavior and the scanner's default.
	FramingUnframed Framing = iota
	// FramingPrefixed prepends a VarInt length of the handshake body,
	// per strict protocol conformance.
	FramingPrefixed
)

// nextStateStatus is the handshake's "next state" field value requesting
// the Status state (as opposed to Login).
const nextStateStatus = 0x01

// handshakePacketID is the packet ID byte for the handshake packet.
const handshakePacketID = 0x00

// HandshakeBody builds the handshake packet body: packet id, protocol
// version (always encoded as VarInt 0 — the scanner does not claim a
// specific client version), hostname length + bytes, port (big-endian
// uint16), next-state byte.
func HandshakeBody(hostname string, port uint16) []byte {
	body := make([]byte, 0, 7+len(hostname))
	body = append(body, handshakePacketID)
	body = PutVarInt(body, 0) // protocol version
	body = PutVarInt(body, int32(len(hostname)))
	body = append(body, hostname...)
	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], port)
	body = append(body, portBytes[:]...)
	body = append(body, nextStateStatus)
	return body
}

// Handshake builds the bytes to write on the wire for the handshake step,
// applying the selected framing.
func Handshake(hostname string, port uint16, framing Framing) []byte {
	body := HandshakeBody(hostname, port)
	if framing == FramingPrefixed {
		framed := PutVarInt(nil, int32(len(body)))
		return append(framed, body...)
	}
	return body
}

// StatusRequest is the fixed two-byte status-request packet: length prefix
// 1, packet id 0x00.
func StatusRequest() []byte {
	return []byte{0x01, 0x00}
}
