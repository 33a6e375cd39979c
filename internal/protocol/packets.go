package protocol

// InputPacket is the client -> server input command.
// Layout (18 bytes): tag, ver, seq u16, dt u16, thrust s16 (Q0.15),
// turn s16 (Q0.15), actions u16, clientTime u32, checksum u16.
type InputPacket struct {
	Seq        uint16
	DtMs       uint16
	Thrust     int16 // Q0.15, [-1,1]
	Turn       int16 // Q0.15, [-1,1]
	Actions    uint16
	ClientTime uint32
}

// InputPacketSize is the fixed encoded size of an InputPacket.
const InputPacketSize = 18

// Action bitfield bits the server understands. Anything outside ActionMask
// is an invalid-action violation.
const (
	ActionFire      uint16 = 1 << 0
	ActionReload    uint16 = 1 << 1
	ActionBoard     uint16 = 1 << 2
	ActionAnchor    uint16 = 1 << 3
	ActionRaiseSail uint16 = 1 << 4
	ActionLowerSail uint16 = 1 << 5
	ActionRepair    uint16 = 1 << 6
	ActionBrace     uint16 = 1 << 7
	ActionInteract  uint16 = 1 << 8
	ActionJump      uint16 = 1 << 9

	ActionMask uint16 = 1<<10 - 1
)

// Marshal encodes the packet, including its checksum.
func (p InputPacket) Marshal() []byte {
	b := make([]byte, InputPacketSize)
	b[0] = TypeInput
	b[1] = Version
	putU16(b[2:], p.Seq)
	putU16(b[4:], p.DtMs)
	putU16(b[6:], uint16(p.Thrust))
	putU16(b[8:], uint16(p.Turn))
	putU16(b[10:], p.Actions)
	putU32(b[12:], p.ClientTime)
	patchChecksum(b, 16)
	return b
}

// UnmarshalInput validates and decodes an input command.
func UnmarshalInput(b []byte) (InputPacket, error) {
	if err := validateHeader(b, TypeInput, InputPacketSize); err != nil {
		return InputPacket{}, err
	}
	if !verifyChecksum(b, 16) {
		return InputPacket{}, ErrChecksum
	}
	return InputPacket{
		Seq:        getU16(b[2:]),
		DtMs:       getU16(b[4:]),
		Thrust:     int16(getU16(b[6:])),
		Turn:       int16(getU16(b[8:])),
		Actions:    getU16(b[10:]),
		ClientTime: getU32(b[12:]),
	}, nil
}

// Snapshot flag bits.
const (
	SnapshotFlagBaseline uint8 = 1 << 0
	SnapshotFlagDelta    uint8 = 1 << 1
)

// SnapshotHeaderSize is the fixed header preceding the entity records:
// tag, ver, serverTime u32, baselineID u16, snapshotID u16, aoiCell u16,
// count u8, flags u8, checksum u16.
const SnapshotHeaderSize = 16

// SnapshotPacket is the server -> client entity state update. Exactly one of
// the baseline/delta flags is set; Entities is used for baselines, Deltas for
// delta packets. The checksum covers the assembled header plus all records.
type SnapshotPacket struct {
	ServerTime uint32
	BaselineID uint16
	SnapshotID uint16
	AOICell    uint16
	Flags      uint8

	Entities []EntitySnapshot
	Deltas   []EntityDelta
}

// Marshal encodes the snapshot packet. It returns ErrOversize when the
// assembled packet exceeds MaxPayload; builders size their entity lists to
// stay under the bound, so hitting it indicates a caller bug.
func (p SnapshotPacket) Marshal() ([]byte, error) {
	count := len(p.Entities)
	if p.Flags&SnapshotFlagDelta != 0 {
		count = len(p.Deltas)
	}
	if count > MaxSnapshotEntities {
		return nil, ErrOversize
	}
	b := make([]byte, SnapshotHeaderSize, SnapshotHeaderSize+count*EntitySnapshotSize)
	b[0] = TypeSnapshot
	b[1] = Version
	putU32(b[2:], p.ServerTime)
	putU16(b[6:], p.BaselineID)
	putU16(b[8:], p.SnapshotID)
	putU16(b[10:], p.AOICell)
	b[12] = uint8(count)
	b[13] = p.Flags
	if p.Flags&SnapshotFlagDelta != 0 {
		for _, d := range p.Deltas {
			b = d.append(b)
		}
	} else {
		for _, s := range p.Entities {
			b = s.append(b)
		}
	}
	if len(b) > MaxPayload {
		return nil, ErrOversize
	}
	patchChecksum(b, 14)
	return b, nil
}

// UnmarshalSnapshot validates and decodes a snapshot packet.
func UnmarshalSnapshot(b []byte) (SnapshotPacket, error) {
	if err := validateHeader(b, TypeSnapshot, SnapshotHeaderSize); err != nil {
		return SnapshotPacket{}, err
	}
	if !verifyChecksum(b, 14) {
		return SnapshotPacket{}, ErrChecksum
	}
	p := SnapshotPacket{
		ServerTime: getU32(b[2:]),
		BaselineID: getU16(b[6:]),
		SnapshotID: getU16(b[8:]),
		AOICell:    getU16(b[10:]),
		Flags:      b[13],
	}
	count := int(b[12])
	rest := b[SnapshotHeaderSize:]
	if p.Flags&SnapshotFlagDelta != 0 {
		p.Deltas = make([]EntityDelta, 0, count)
		for i := 0; i < count; i++ {
			d, n, err := decodeEntityDelta(rest)
			if err != nil {
				return SnapshotPacket{}, err
			}
			p.Deltas = append(p.Deltas, d)
			rest = rest[n:]
		}
	} else {
		p.Entities = make([]EntitySnapshot, 0, count)
		for i := 0; i < count; i++ {
			s, n, err := decodeEntitySnapshot(rest)
			if err != nil {
				return SnapshotPacket{}, err
			}
			p.Entities = append(p.Entities, s)
			rest = rest[n:]
		}
	}
	return p, nil
}

// AckPacket acknowledges received sequences. Bit i of AckBits set means
// sequence AckSeq-i was received; bit 0 restates the explicit AckSeq.
// Layout (14 bytes): tag, ver, ackSeq u16, ackBits u32, clientTime u32,
// checksum u16.
type AckPacket struct {
	AckSeq     uint16
	AckBits    uint32
	ClientTime uint32
}

// AckPacketSize is the fixed encoded size of an AckPacket.
const AckPacketSize = 14

// Marshal encodes the ack packet, including its checksum.
func (p AckPacket) Marshal() []byte {
	b := make([]byte, AckPacketSize)
	b[0] = TypeAck
	b[1] = Version
	putU16(b[2:], p.AckSeq)
	putU32(b[4:], p.AckBits)
	putU32(b[8:], p.ClientTime)
	patchChecksum(b, 12)
	return b
}

// UnmarshalAck validates and decodes an ack packet.
func UnmarshalAck(b []byte) (AckPacket, error) {
	if err := validateHeader(b, TypeAck, AckPacketSize); err != nil {
		return AckPacket{}, err
	}
	if !verifyChecksum(b, 12) {
		return AckPacket{}, ErrChecksum
	}
	return AckPacket{
		AckSeq:     getU16(b[2:]),
		AckBits:    getU32(b[4:]),
		ClientTime: getU32(b[8:]),
	}, nil
}

// HelloPacket is the client half of the handshake.
// Layout (24 bytes): tag, ver, clientID u32, name [16]byte (null-terminated),
// checksum u16.
type HelloPacket struct {
	ClientID uint32
	Name     string
}

// HelloPacketSize is the fixed encoded size of a HelloPacket.
const HelloPacketSize = 24

// Marshal encodes the hello packet. Names longer than PlayerNameLen-1 bytes
// are truncated; the field is always null-terminated.
func (p HelloPacket) Marshal() []byte {
	b := make([]byte, HelloPacketSize)
	b[0] = TypeHello
	b[1] = Version
	putU32(b[2:], p.ClientID)
	name := p.Name
	if len(name) > PlayerNameLen-1 {
		name = name[:PlayerNameLen-1]
	}
	copy(b[6:6+PlayerNameLen], name)
	patchChecksum(b, 22)
	return b
}

// UnmarshalHello validates and decodes a hello packet.
func UnmarshalHello(b []byte) (HelloPacket, error) {
	if err := validateHeader(b, TypeHello, HelloPacketSize); err != nil {
		return HelloPacket{}, err
	}
	if !verifyChecksum(b, 22) {
		return HelloPacket{}, ErrChecksum
	}
	raw := b[6 : 6+PlayerNameLen]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return HelloPacket{ClientID: getU32(b[2:]), Name: string(raw[:n])}, nil
}

// WelcomePacket is the server half of the handshake, carrying the assigned
// player ID. Layout (10 bytes): tag, ver, playerID u16, serverTime u32,
// checksum u16.
type WelcomePacket struct {
	PlayerID   uint16
	ServerTime uint32
}

// WelcomePacketSize is the fixed encoded size of a WelcomePacket.
const WelcomePacketSize = 10

// Marshal encodes the welcome packet, including its checksum.
func (p WelcomePacket) Marshal() []byte {
	b := make([]byte, WelcomePacketSize)
	b[0] = TypeWelcome
	b[1] = Version
	putU16(b[2:], p.PlayerID)
	putU32(b[4:], p.ServerTime)
	patchChecksum(b, 8)
	return b
}

// UnmarshalWelcome validates and decodes a welcome packet.
func UnmarshalWelcome(b []byte) (WelcomePacket, error) {
	if err := validateHeader(b, TypeWelcome, WelcomePacketSize); err != nil {
		return WelcomePacket{}, err
	}
	if !verifyChecksum(b, 8) {
		return WelcomePacket{}, ErrChecksum
	}
	return WelcomePacket{PlayerID: getU16(b[2:]), ServerTime: getU32(b[4:])}, nil
}

// HeartbeatPacket keeps an otherwise idle connection's path alive through
// NAT/firewalls. Layout (8 bytes): tag, ver, serverTime u32, checksum u16.
type HeartbeatPacket struct {
	ServerTime uint32
}

// HeartbeatPacketSize is the fixed encoded size of a HeartbeatPacket.
const HeartbeatPacketSize = 8

// Marshal encodes the heartbeat packet, including its checksum.
func (p HeartbeatPacket) Marshal() []byte {
	b := make([]byte, HeartbeatPacketSize)
	b[0] = TypeHeartbeat
	b[1] = Version
	putU32(b[2:], p.ServerTime)
	patchChecksum(b, 6)
	return b
}

// UnmarshalHeartbeat validates and decodes a heartbeat packet.
func UnmarshalHeartbeat(b []byte) (HeartbeatPacket, error) {
	if err := validateHeader(b, TypeHeartbeat, HeartbeatPacketSize); err != nil {
		return HeartbeatPacket{}, err
	}
	if !verifyChecksum(b, 6) {
		return HeartbeatPacket{}, ErrChecksum
	}
	return HeartbeatPacket{ServerTime: getU32(b[2:])}, nil
}
