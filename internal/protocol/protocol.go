// Package protocol defines the binary wire format of the netcode core.
//
// Every packet is a fixed little-endian layout beginning with a 1-byte type
// tag and a 1-byte protocol version, and carrying a 16-bit one's-complement
// checksum computed over the fully assembled packet with the checksum field
// zeroed. Packets failing type, version, size or checksum validation decode
// to an error; callers drop and count them, they are never reported to the
// sender.
package protocol

import "errors"

// Version is the wire protocol version carried in byte 1 of every packet.
const Version byte = 1

// Packet type tags.
const (
	TypeInput     byte = 0x01 // client -> server input command
	TypeSnapshot  byte = 0x02 // server -> client baseline/delta entity list
	TypeAck       byte = 0x03 // acknowledgment with history bitfield
	TypeHello     byte = 0x04 // client -> server handshake
	TypeWelcome   byte = 0x05 // server -> client handshake reply
	TypeHeartbeat byte = 0x06 // keepalive, no payload beyond server time
)

// Transport limits.
const (
	// MaxPayload is the safe datagram payload bound. A snapshot build that
	// would exceed it omits the remaining entities for that tick.
	MaxPayload = 1200

	// MaxSnapshotEntities caps the entity records in one snapshot packet.
	MaxSnapshotEntities = 64

	// PlayerNameLen is the fixed, null-terminated name field size in the
	// handshake.
	PlayerNameLen = 16
)

// Decode failures. All map to "drop and count" at the call site.
var (
	ErrTruncated = errors.New("protocol: packet truncated")
	ErrType      = errors.New("protocol: unexpected packet type")
	ErrVersion   = errors.New("protocol: protocol version mismatch")
	ErrChecksum  = errors.New("protocol: checksum mismatch")
	ErrOversize  = errors.New("protocol: packet exceeds payload bound")
)

// Checksum returns the 16-bit one's complement of the folded 32-bit running
// byte sum of b. The caller must zero the packet's checksum field first.
func Checksum(b []byte) uint16 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// verifyChecksum checks the checksum stored at offset off against the packet
// contents with that field zeroed.
func verifyChecksum(b []byte, off int) bool {
	if off+2 > len(b) {
		return false
	}
	stored := uint16(b[off]) | uint16(b[off+1])<<8
	b[off], b[off+1] = 0, 0
	ok := Checksum(b) == stored
	b[off] = byte(stored)
	b[off+1] = byte(stored >> 8)
	return ok
}

// patchChecksum computes the checksum of b (with the field zeroed) and writes
// it at offset off.
func patchChecksum(b []byte, off int) {
	b[off], b[off+1] = 0, 0
	cs := Checksum(b)
	b[off] = byte(cs)
	b[off+1] = byte(cs >> 8)
}

// validateHeader checks the common tag/version prefix and minimum size.
func validateHeader(b []byte, tag byte, minLen int) error {
	if len(b) < minLen {
		return ErrTruncated
	}
	if b[0] != tag {
		return ErrType
	}
	if b[1] != Version {
		return ErrVersion
	}
	return nil
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
