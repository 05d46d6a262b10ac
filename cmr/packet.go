// Package cmr implements CMR framing used between the bridge, the GPS
// receiver and the monitoring server.
//
// Frame layout:
//   0x02 kind-hi kind-lo len payload[len] checksum 0x03
// checksum is the 8 bit sum of kind-hi, kind-lo, len and payload.
// PING is a single 0x00 byte without framing.
package cmr

import (
	"fmt"
	"strings"

	"github.com/dignet/gpsbridge/helpers"
)

type Kind uint16

const (
	KindPing           Kind = 0x0000
	KindRTCM           Kind = 0xbc05
	KindSerial         Kind = 0xbc06
	KindDignet         Kind = 0xbc07
	KindMultiBegin     Kind = 0xbc08
	KindMultiPayload   Kind = 0xbc09
	KindMultiEnd       Kind = 0xbc0a
	KindLampnet             = KindDignet
)

const (
	frameHeaderSize  = 4 // stx, kind-hi, kind-lo, len
	frameTrailerSize = 2 // checksum, etx
	FrameOverhead    = frameHeaderSize + frameTrailerSize
	MaxPayload       = 0xff - FrameOverhead
	MaxFrameLength   = MaxPayload + FrameOverhead
	MaxMessageLength = 64 << 10

	ByteStart = 0x02
	ByteEnd   = 0x03
	BytePing  = 0x00
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindRTCM:
		return "RTCM"
	case KindSerial:
		return "SERIAL"
	case KindDignet:
		return "DIGNET"
	case KindMultiBegin:
		return "MULTIPACKET_BEGIN"
	case KindMultiPayload:
		return "MULTIPACKET_PAYLOAD"
	case KindMultiEnd:
		return "MULTIPACKET_END"
	}
	return fmt.Sprintf("%04x", uint16(k))
}

func (k Kind) IsMultipacket() bool {
	return k == KindMultiBegin || k == KindMultiPayload || k == KindMultiEnd
}

// Packet is a value. Constructors copy payload; decoders hand out fresh slices.
type Packet struct {
	Kind    Kind
	Payload []byte
}

var Ping = Packet{Kind: KindPing}

func NewPacket(kind Kind, payload []byte) Packet {
	p := Packet{Kind: kind}
	if len(payload) != 0 {
		p.Payload = append([]byte(nil), payload...)
	}
	return p
}

func NewMessage(kind Kind, text string) Packet {
	return Packet{Kind: kind, Payload: []byte(text)}
}

func NewDignet(text string) Packet { return NewMessage(KindDignet, text) }

// NewSerial wraps data received on serial `port` of the modem box.
func NewSerial(port byte, data []byte) Packet {
	b := make([]byte, 1+len(data))
	b[0] = port
	copy(b[1:], data)
	return Packet{Kind: KindSerial, Payload: b}
}

// SerialPort splits SERIAL payload into port index and data.
// ok=false when p is not SERIAL or carries no data after the port byte.
func (p Packet) SerialPort() (port byte, data []byte, ok bool) {
	if p.Kind != KindSerial || len(p.Payload) < 2 {
		return 0, nil, false
	}
	return p.Payload[0], p.Payload[1:], true
}

func (p Packet) Text() string { return string(p.Payload) }

func (p Packet) Equal(p2 Packet) bool {
	if p.Kind != p2.Kind || len(p.Payload) != len(p2.Payload) {
		return false
	}
	for i := range p.Payload {
		if p.Payload[i] != p2.Payload[i] {
			return false
		}
	}
	return true
}

func (p Packet) String() string {
	switch p.Kind {
	case KindPing:
		return "PING"
	case KindDignet:
		return strings.TrimRight(p.Text(), "\r\n")
	}
	if len(p.Payload) == 0 {
		return "[" + p.Kind.String() + "]"
	}
	return "[" + p.Kind.String() + " : " + helpers.HexSpaced(p.Payload) + "]"
}
