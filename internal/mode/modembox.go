package mode

import (
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
)

const (
	GpsSendPeriod    = 10 * time.Second
	SupplySendPeriod = 5 * time.Minute
	gpsPorts         = 2
)

// ModemBox bridges server and CMR serial switch. Switch packets go upstream,
// server packets go to the switch, GPGGA lines of GPS ports are sampled.
type ModemBox struct {
	log     *log2.Log
	pins    hardware.Pins
	decoder *cmr.Decoder
	// nil until first SERIAL packet from switch
	lines      []*GpsLine
	gpsSent    time.Time
	supplySent time.Time
}

var _ Handler = &ModemBox{}

func NewModemBox(pins hardware.Pins, opt Options) *ModemBox {
	return &ModemBox{
		log:     opt.Log,
		pins:    pins,
		decoder: cmr.NewDecoder(0),
	}
}

func (self *ModemBox) Startup() error { return nil }

func (self *ModemBox) Connect(env Env) (Verdict, error) {
	return Continue, self.sendSupply(env)
}

func (self *ModemBox) Packet(env Env, p cmr.Packet) (Verdict, error) {
	if err := env.SendSerial(p); err != nil {
		return Continue, errors.Annotate(err, "modembox to serial")
	}
	if p.Kind == cmr.KindRTCM {
		_ = self.pins.Toggle(hardware.LineRTCMTraffic)
	}
	return Continue, nil
}

func (self *ModemBox) Serial(env Env, b []byte) error {
	self.decoder.Feed(b)
	now := env.Now()
	for {
		p, ok := self.decoder.Pop()
		if !ok {
			return nil
		}
		_ = self.pins.Toggle(hardware.LinePacketTraffic)
		if p.Kind == cmr.KindSerial {
			if self.lines == nil {
				self.lines = make([]*GpsLine, gpsPorts)
				for i := range self.lines {
					self.lines[i] = NewGpsLine(GpsLinePrefix)
				}
			}
			if port, data, ok := p.SerialPort(); ok && int(port) < gpsPorts {
				self.lines[port].Feed(data, now)
			}
			continue
		}
		if p.Kind == cmr.KindRTCM {
			_ = self.pins.Toggle(hardware.LineRTCMTraffic)
		}
		if env.Online() {
			if err := env.Send(p); err != nil {
				return err
			}
		}
	}
}

func (self *ModemBox) Idle(env Env) (Verdict, error) {
	now := env.Now()
	if self.supplySent.IsZero() || now.Sub(self.supplySent) > SupplySendPeriod {
		if err := self.sendSupply(env); err != nil {
			return Continue, err
		}
	}
	return Continue, self.sendGps(env, now)
}

func (self *ModemBox) sendGps(env Env, now time.Time) error {
	if self.lines == nil {
		return nil
	}
	if !self.gpsSent.IsZero() && now.Sub(self.gpsSent) <= GpsSendPeriod {
		return nil
	}
	self.gpsSent = now
	for i, l := range self.lines {
		line, ok := l.Fresh(now)
		if !ok {
			continue
		}
		if err := env.Send(cmr.NewSerial(byte(i), line)); err != nil {
			return err
		}
	}
	return nil
}

func (self *ModemBox) Timeout(env Env, last, now time.Time) error {
	return sendTimeout(env, last, now)
}

func (self *ModemBox) Disconnect() {}

// SupplyMessage reads supply voltage through the box divider.
func (self *ModemBox) SupplyMessage() string {
	mv, err := hardware.ScaleModemBoxSupply.Read(self.pins)
	if err != nil {
		self.log.Debugf("modembox supply err=%v", err)
		return "modembox supplyvoltage=?"
	}
	return "modembox supplyvoltage=" + mv.String()
}

// Sent to server and to the switch, which shows it on local console.
func (self *ModemBox) sendSupply(env Env) error {
	p := cmr.NewDignet(self.SupplyMessage())
	self.supplySent = env.Now()
	errs := make([]error, 0, 2)
	errs = append(errs, env.Send(p))
	errs = append(errs, env.SendSerial(p))
	for _, e := range errs {
		if e != nil {
			return errors.Annotate(e, "modembox supply voltage")
		}
	}
	return nil
}
