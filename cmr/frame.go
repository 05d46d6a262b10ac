package cmr

import (
	"fmt"
	"io"

	"github.com/dignet/gpsbridge/helpers"
	"github.com/juju/errors"
)

var (
	ErrFrameInvalid = fmt.Errorf("cmr: frame is invalid")
	// ErrShort means more input is needed to finish the frame.
	ErrShort = fmt.Errorf("cmr: frame is incomplete")
)

func Checksum(b []byte) byte {
	var sum byte
	for _, x := range b {
		sum += x
	}
	return sum
}

// AppendFrame appends single frame encoding of p to dst.
// Payload over MaxPayload is a caller error, use Split or Marshal.
func AppendFrame(dst []byte, p Packet) ([]byte, error) {
	if p.Kind == KindPing {
		return append(dst, BytePing), nil
	}
	if len(p.Payload) > MaxPayload {
		return dst, errors.NotValidf("cmr kind=%s payload length=%d > %d", p.Kind, len(p.Payload), MaxPayload)
	}
	start := len(dst)
	dst = append(dst, ByteStart, byte(p.Kind>>8), byte(p.Kind), byte(len(p.Payload)))
	dst = append(dst, p.Payload...)
	sum := Checksum(dst[start+1:])
	return append(dst, sum, ByteEnd), nil
}

// Split returns frames to send for p. DIGNET payloads longer than
// MaxPayload turn into MULTIPACKET_BEGIN, PAYLOAD..., END sequence.
// Other kinds are never fragmented and oversize is an error.
func Split(p Packet) ([]Packet, error) {
	if p.Kind == KindPing || len(p.Payload) <= MaxPayload {
		return []Packet{p}, nil
	}
	if p.Kind != KindDignet {
		return nil, errors.NotValidf("cmr kind=%s payload length=%d > %d", p.Kind, len(p.Payload), MaxPayload)
	}
	n := (len(p.Payload) + MaxPayload - 1) / MaxPayload
	ps := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		lo := i * MaxPayload
		hi := lo + MaxPayload
		if hi > len(p.Payload) {
			hi = len(p.Payload)
		}
		kind := KindMultiPayload
		switch i {
		case 0:
			kind = KindMultiBegin
		case n - 1:
			kind = KindMultiEnd
		}
		ps = append(ps, Packet{Kind: kind, Payload: p.Payload[lo:hi]})
	}
	return ps, nil
}

// Marshal returns wire bytes for p, fragmented as needed.
func Marshal(p Packet) ([]byte, error) {
	ps, err := Split(p)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(p.Payload)+len(ps)*FrameOverhead)
	for _, fp := range ps {
		if b, err = AppendFrame(b, fp); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func MustMarshal(p Packet) []byte {
	b, err := Marshal(p)
	if err != nil {
		panic(err)
	}
	return b
}

// Encode writes p to w as one contiguous write.
func Encode(w io.Writer, p Packet) error {
	b, err := Marshal(p)
	if err != nil {
		return err
	}
	return errors.Annotatef(helpers.WriteAll(w, b), "cmr write kind=%s", p.Kind)
}

// Unmarshal parses one frame or PING at the beginning of b.
// Returns consumed length. Payload is a fresh copy.
func Unmarshal(b []byte) (Packet, int, error) {
	if len(b) == 0 {
		return Packet{}, 0, ErrShort
	}
	switch b[0] {
	case BytePing:
		return Ping, 1, nil
	case ByteStart:
	default:
		return Packet{}, 0, ErrFrameInvalid
	}
	if len(b) < frameHeaderSize {
		return Packet{}, 0, ErrShort
	}
	length := int(b[3])
	if length > MaxPayload {
		return Packet{}, 0, ErrFrameInvalid
	}
	total := length + FrameOverhead
	if len(b) < total {
		return Packet{}, 0, ErrShort
	}
	if Checksum(b[1:frameHeaderSize+length]) != b[frameHeaderSize+length] {
		return Packet{}, 0, ErrFrameInvalid
	}
	if b[total-1] != ByteEnd {
		return Packet{}, 0, ErrFrameInvalid
	}
	kind := Kind(b[1])<<8 | Kind(b[2])
	return NewPacket(kind, b[frameHeaderSize:frameHeaderSize+length]), total, nil
}
