package cmr

// Reassembler joins MULTIPACKET_BEGIN, PAYLOAD..., END into one DIGNET packet.
//
// Rules:
// - BEGIN opens reassembly, BEGIN while open restarts it
// - PAYLOAD or END without BEGIN is dropped
// - any other kind while open aborts reassembly and passes through
// - reassembly longer than Max aborts
type Reassembler struct {
	Max int // default MaxMessageLength

	buf  []byte
	open bool

	Dropped int
	Aborted int
}

func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.open = false
}

func (r *Reassembler) Open() bool { return r.open }

// Push consumes p and returns a packet ready for delivery, if any.
func (r *Reassembler) Push(p Packet) (Packet, bool) {
	switch p.Kind {
	case KindMultiBegin:
		if r.open {
			r.Aborted++
		}
		r.buf = append(r.buf[:0], p.Payload...)
		r.open = true
		r.checkMax()
		return Packet{}, false

	case KindMultiPayload, KindMultiEnd:
		if !r.open {
			r.Dropped++
			return Packet{}, false
		}
		r.buf = append(r.buf, p.Payload...)
		if !r.checkMax() {
			return Packet{}, false
		}
		if p.Kind == KindMultiPayload {
			return Packet{}, false
		}
		out := NewPacket(KindDignet, r.buf)
		r.Reset()
		return out, true

	default:
		if r.open {
			r.Aborted++
			r.Reset()
		}
		return p, true
	}
}

func (r *Reassembler) checkMax() bool {
	max := r.Max
	if max == 0 {
		max = MaxMessageLength
	}
	if len(r.buf) > max {
		r.Aborted++
		r.Reset()
		return false
	}
	return true
}
