package mode

import (
	"bytes"
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/helpers/cacheval"
)

const (
	GpsLinePrefix = "$GPGGA"
	GpsMaxAge     = 3 * time.Second
)

// GpsLine assembles NMEA sentences from SERIAL packet data and keeps the
// latest one starting with prefix.
type GpsLine struct {
	prefix []byte
	acc    []byte
	last   cacheval.Bytes
}

func NewGpsLine(prefix string) *GpsLine {
	l := &GpsLine{
		prefix: []byte(prefix),
		acc:    make([]byte, 0, cmr.MaxPayload),
	}
	l.last.Init(GpsMaxAge)
	return l
}

// Feed consumes serial data (port byte already stripped).
// CR terminates a line, LF is ignored.
func (self *GpsLine) Feed(data []byte, now time.Time) {
	for _, b := range data {
		switch b {
		case '\r':
			if bytes.HasPrefix(self.acc, self.prefix) {
				self.last.Set(self.acc, now)
			}
			self.acc = self.acc[:0]
		case '\n':
		default:
			self.acc = append(self.acc, b)
		}
	}
	// garbage without CR must not grow forever
	if len(self.acc)+1 >= cmr.MaxPayload {
		self.acc = self.acc[:0]
	}
}

// Fresh returns last complete line when younger than GpsMaxAge.
func (self *GpsLine) Fresh(now time.Time) ([]byte, bool) {
	b, ok := self.last.GetFresh(now)
	if !ok || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (self *GpsLine) Last() []byte { return self.last.Get() }
