package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd protocol message types (eibd wire protocol).
const (
	// EIBOpenGroupCon opens a bidirectional group socket.
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries a group telegram in either direction.
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

// knxdHeaderSize is size field (2) plus type field (2).
const knxdHeaderSize = 4

// Telegram is one KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"); only set
	// on received telegrams.
	Source string

	// Destination is the target group address.
	Destination GroupAddress

	// APCI is the telegram kind (read, response, write).
	APCI byte

	// Data is the DPT-encoded payload; empty for reads.
	Data []byte

	// Timestamp is when the telegram was received or created.
	Timestamp time.Time
}

// NewWriteTelegram builds a group write.
func NewWriteTelegram(dest GroupAddress, data []byte) Telegram {
	return Telegram{Destination: dest, APCI: APCIWrite, Data: data, Timestamp: time.Now()}
}

// NewReadTelegram builds a group read request.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{Destination: dest, APCI: APCIRead, Timestamp: time.Now()}
}

// IsWrite reports whether this is a group write.
func (t Telegram) IsWrite() bool { return t.APCI == APCIWrite }

// IsResponse reports whether this is a read response.
func (t Telegram) IsResponse() bool { return t.APCI == APCIResponse }

// ParseTelegram parses the payload of a received EIB_GROUP_PACKET.
//
// Receive format: src(2) + dest(2) + TPCI(1) + APCI|data(1) [+ data].
// Values up to 6 bits travel inside the APCI byte (short frame);
// larger payloads follow it (long frame).
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < 6 {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	src := binary.BigEndian.Uint16(data[0:2])
	dest := GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4]))
	apci := data[5] & 0xC0

	var payload []byte
	switch {
	case len(data) > 6:
		payload = make([]byte, len(data)-6)
		copy(payload, data[6:])
	case apci == APCIWrite || apci == APCIResponse:
		payload = []byte{data[5] & 0x3F}
	}

	return Telegram{
		Source:      formatIndividualAddress(src),
		Destination: dest,
		APCI:        apci,
		Data:        payload,
		Timestamp:   time.Now(),
	}, nil
}

// formatIndividualAddress renders a physical device address "A.L.D".
func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode renders the telegram for sending on a GROUPCON socket.
//
// Send format: dest(2) + TPCI(1) + APCI[|data](1) [+ data]. Unlike the
// receive format there is no source prefix; knxd fills it in.
func (t Telegram) Encode() []byte {
	small := len(t.Data) == 1 && t.Data[0] <= 0x3F

	if len(t.Data) == 0 || small {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[3] = t.APCI
		if small {
			buf[3] |= t.Data[0] & 0x3F
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// EncodeMessage frames a payload as a knxd message:
// size(2, excludes itself) + type(2) + payload.
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // small messages
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseMessage splits a framed knxd message into type and payload.
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}
	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, have %d)", ErrInvalidTelegram, declared, len(data)-2)
	}
	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
