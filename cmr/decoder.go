package cmr

import "fmt"

type DecoderStat struct {
	Frames  int // valid frames, including multipacket parts
	Pings   int
	Invalid int // candidate frames dropped for bad checksum, length or trailer
	Skipped int // bytes outside of any frame
}

func (s DecoderStat) String() string {
	return fmt.Sprintf("frames=%d pings=%d invalid=%d skipped=%d", s.Frames, s.Pings, s.Invalid, s.Skipped)
}

// Decoder turns an arbitrary chunked byte stream into packets.
// Feed appends input, Pop takes completed packets in arrival order.
// Packets are the same for any chunking of the same input.
// Not safe for concurrent use.
type Decoder struct {
	Stat DecoderStat
	asm  Reassembler

	buf   []byte
	queue []Packet
}

// NewDecoder with zero maxMessage uses MaxMessageLength.
func NewDecoder(maxMessage int) *Decoder {
	d := &Decoder{}
	d.asm.Max = maxMessage
	return d
}

// Feed appends b and parses all complete frames. Returns number of packets queued.
func (d *Decoder) Feed(b []byte) int {
	d.buf = append(d.buf, b...)
	before := len(d.queue)
	i := 0
	for i < len(d.buf) {
		c := d.buf[i]
		// 0x00 outside a valid frame is PING, including bytes of a rejected candidate
		if c != ByteStart && c != BytePing {
			d.Stat.Skipped++
			i++
			continue
		}
		p, n, err := Unmarshal(d.buf[i:])
		if err == ErrShort {
			break
		}
		if err != nil {
			// drop start byte, scan for next candidate
			d.Stat.Invalid++
			i++
			continue
		}
		i += n
		if p.Kind == KindPing && n == 1 {
			d.Stat.Pings++
		} else {
			d.Stat.Frames++
		}
		if out, ok := d.asm.Push(p); ok {
			d.queue = append(d.queue, out)
		}
	}
	d.consume(i)
	return len(d.queue) - before
}

// Pop returns oldest decoded packet, ok=false when queue is empty.
func (d *Decoder) Pop() (Packet, bool) {
	if len(d.queue) == 0 {
		return Packet{}, false
	}
	p := d.queue[0]
	d.queue[0] = Packet{}
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		d.queue = d.queue[:0:0]
	}
	return p, true
}

func (d *Decoder) Len() int { return len(d.queue) }

// Buffered returns count of bytes waiting for frame completion.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) Dropped() int { return d.asm.Dropped }
func (d *Decoder) Aborted() int { return d.asm.Aborted }

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.queue = nil
	d.asm.Reset()
}

func (d *Decoder) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
