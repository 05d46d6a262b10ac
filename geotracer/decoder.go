package geotracer

import "encoding/binary"

// fixedFrame describes a command whose frame length is computed from
// header fields instead of searching for LF.
type fixedFrame struct {
	name string
	// greedy token scan may absorb up to overrun bytes of binary header
	overrun int
	// header bytes required from command start before total() is valid
	need int
	// total frame length, b starts at command start
	total func(b []byte) int
	// fill sets header fields and payload from complete frame b
	fill func(b []byte, c *Command)
}

var fixedFrames = []fixedFrame{
	{name: NameAFileData, need: 14, total: func(b []byte) int {
		if b[13] == '\r' {
			return 10 + 1 + 2 + 1
		}
		return 10 + 1 + 2 + int(binary.BigEndian.Uint16(b[11:])) + 2
	}, fill: func(b []byte, c *Command) {
		c.Length = int(binary.BigEndian.Uint16(b[11:]))
		if b[13] != '\r' {
			c.Payload = clone(b[13 : 13+c.Length])
		}
	}},
	{name: NameAWrite, need: 15, total: func(b []byte) int {
		return 6 + 1 + 4 + 1 + 2 + int(binary.BigEndian.Uint16(b[12:])) + 2
	}, fill: func(b []byte, c *Command) {
		c.Handle = binary.BigEndian.Uint32(b[7:])
		c.Length = int(binary.BigEndian.Uint16(b[12:]))
		c.Payload = clone(b[14 : 14+c.Length])
	}},
	// satellite count right after "CU" may be read as part of the token
	{name: NameCU, overrun: 1, need: 3, total: func(b []byte) int {
		return 31 + int(b[2])*6 + 1
	}, fill: func(b []byte, c *Command) {
		c.Payload = clone(b[2:])
	}},
}

// matchFixed finds fixed frame command for token, next is the byte after token.
// Overrun token followed by a line separator is a line command, e.g. "CUR=1".
func matchFixed(token []byte, next byte) *fixedFrame {
	for i := range fixedFrames {
		ff := &fixedFrames[i]
		extra := len(token) - len(ff.name)
		if extra < 0 || extra > ff.overrun || string(token[:len(ff.name)]) != ff.name {
			continue
		}
		if extra > 0 && isSeparator(next) {
			continue
		}
		return ff
	}
	return nil
}

func isSeparator(c byte) bool {
	switch c {
	case ' ', '=', ',', '\r', PacketEnd:
		return true
	}
	return false
}

func isFirst(c byte) bool { return c >= 'A' && c <= 'Z' }
func isOther(c byte) bool { return isFirst(c) || (c >= '0' && c <= '9') || c == '_' }

type Stat struct {
	Commands int
	Skipped  int // bytes reported in SKIPPED pseudo commands
	Overlong int // lines dropped for exceeding MaxLineLength
}

// Decoder turns chunked receiver output into Commands.
// Bytes before a recognized command are reported as SKIPPED command.
// Incomplete frame stays buffered until more input arrives.
// Not safe for concurrent use.
type Decoder struct {
	Stat Stat

	buf   []byte
	queue []Command
}

func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends b and parses complete commands. Returns number of commands queued.
func (d *Decoder) Feed(b []byte) int {
	d.buf = append(d.buf, b...)
	before := len(d.queue)
	buf := d.buf
	n := len(buf)
	pos := 0      // scan position
	consumed := 0 // everything before is emitted

	// shortest command: letter, '=', CR, LF
	for pos+3 < n {
		for pos < n && !isFirst(buf[pos]) {
			pos++
		}
		if pos >= n {
			break
		}
		start := pos
		tokenEnd := start + 1
		for tokenEnd < n && isOther(buf[tokenEnd]) {
			tokenEnd++
		}
		if tokenEnd >= n {
			break
		}

		var end, payloadStart int
		ff := matchFixed(buf[start:tokenEnd], buf[tokenEnd])
		if ff != nil {
			if n-start < ff.need {
				break
			}
			end = start + ff.total(buf[start:])
			tokenEnd = start + len(ff.name)
		} else {
			limit := start + MaxLineLength
			if limit > n {
				limit = n
			}
			end = tokenEnd
			for end < limit && buf[end] != PacketEnd {
				end++
			}
			if end >= limit {
				if limit == n {
					break
				}
				// give up on this token, keep scanning inside
				d.Stat.Overlong++
				d.Stat.Skipped += start + 1 - consumed
				d.queue = append(d.queue, Command{Name: NameSkipped, Payload: clone(buf[consumed : start+1])})
				pos = start + 1
				consumed = pos
				continue
			}
			end++ // include LF
			// skip separator, unless LF immediately follows the name
			payloadStart = tokenEnd + 1
			if payloadStart > end {
				payloadStart = end
			}
		}
		if end > n {
			break
		}

		if consumed < start {
			d.Stat.Skipped += start - consumed
			d.queue = append(d.queue, Command{Name: NameSkipped, Payload: clone(buf[consumed:start])})
		}
		cmd := Command{Name: string(buf[start:tokenEnd])}
		if ff != nil {
			ff.fill(buf[start:end], &cmd)
		} else if payloadStart < end {
			cmd.Payload = clone(buf[payloadStart:end])
		}
		d.queue = append(d.queue, cmd)
		d.Stat.Commands++
		pos = end
		consumed = end
	}

	if consumed > 0 {
		rest := copy(d.buf, d.buf[consumed:])
		d.buf = d.buf[:rest]
	}
	return len(d.queue) - before
}

// Pop returns oldest decoded command, ok=false when queue is empty.
func (d *Decoder) Pop() (Command, bool) {
	if len(d.queue) == 0 {
		return Command{}, false
	}
	c := d.queue[0]
	d.queue[0] = Command{}
	d.queue = d.queue[1:]
	return c, true
}

func (d *Decoder) Len() int      { return len(d.queue) }
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.queue = nil
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }
