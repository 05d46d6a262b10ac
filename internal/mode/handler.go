// Package mode implements per-deployment device behavior driven by the
// connection supervisor. Two variants exist: GpsBase relays a Geotracer GPS
// base station, ModemBox multiplexes a CMR serial switch.
package mode

import (
	"fmt"
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
)

const (
	VariantGpsBase  = "gpsbase"
	VariantModemBox = "modembox"
)

// Verdict tells the supervisor whether to keep running.
type Verdict uint8

const (
	Continue Verdict = iota
	Stop
)

func (v Verdict) String() string {
	if v == Stop {
		return "stop"
	}
	return "continue"
}

// Env is everything a handler may do to the outside world.
// Send is a no-op while offline.
type Env interface {
	Online() bool
	Send(p cmr.Packet) error
	SendSerial(p cmr.Packet) error
	WriteSerial(b []byte) error
	Now() time.Time
}

// Handler receives supervisor events. All methods are called from a single
// goroutine.
type Handler interface {
	Startup() error
	Connect(env Env) (Verdict, error)
	Packet(env Env, p cmr.Packet) (Verdict, error)
	Serial(env Env, b []byte) error
	Idle(env Env) (Verdict, error)
	Timeout(env Env, last, now time.Time) error
	Disconnect()
}

type Options struct {
	Log *log2.Log
	// mirror diagnostics to server as "log: ..." messages
	LogToServer bool
}

func New(variant string, pins hardware.Pins, opt Options) (Handler, error) {
	if pins == nil {
		pins = hardware.NoopPins{}
	}
	switch variant {
	case VariantGpsBase:
		return NewGpsBase(pins, opt), nil
	case VariantModemBox:
		return NewModemBox(pins, opt), nil
	}
	return nil, errors.NotValidf("mode variant=%s", variant)
}

const timestampLayout = "2006-01-02 15:04:05"

func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s (%d)", t.Format(timestampLayout), t.UnixNano()/int64(time.Millisecond))
}

// TimeoutMessage is the diagnostic sent when server went silent.
func TimeoutMessage(last, now time.Time) string {
	dt := now.Sub(last) / time.Millisecond
	return fmt.Sprintf("TIMEOUT dt=%d last time:%s current time:%s",
		dt, formatTimestamp(last), formatTimestamp(now))
}

func sendTimeout(env Env, last, now time.Time) error {
	return env.Send(cmr.NewDignet(TimeoutMessage(last, now)))
}
