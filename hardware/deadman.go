package hardware

import (
	"strconv"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
)

// Deadman is hardware watchdog. Device restarts unless Reset is called
// at least once per timeout. SetTimeout(0) disables it.
type Deadman interface {
	SetTimeout(d time.Duration) error
	Reset() error
}

type NoopDeadman struct{}

func (NoopDeadman) SetTimeout(time.Duration) error { return nil }
func (NoopDeadman) Reset() error                   { return nil }

// SystemdDeadman pets service manager watchdog via sd_notify.
// Requires WatchdogSec= in unit file, timeout is adjusted at runtime.
type SystemdDeadman struct {
	Log *log2.Log
}

func (self *SystemdDeadman) SetTimeout(d time.Duration) error {
	if d == 0 {
		// systemd keeps watchdog armed until STOPPING=1
		return nil
	}
	usec := strconv.FormatInt(int64(d/time.Microsecond), 10)
	ok, err := daemon.SdNotify(false, "WATCHDOG_USEC="+usec)
	if err != nil {
		return errors.Annotate(err, "sd_notify WATCHDOG_USEC")
	}
	if !ok {
		self.Log.Debugf("deadman: sd_notify not supported, NOTIFY_SOCKET unset")
	}
	return nil
}

func (self *SystemdDeadman) Reset() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return errors.Annotate(err, "sd_notify WATCHDOG")
}

// NewDeadman builds deadman timer from config kind: none, systemd, kernel.
func NewDeadman(c *Config, log *log2.Log) (Deadman, error) {
	switch c.Deadman.Kind {
	case "", "none":
		return NoopDeadman{}, nil
	case "systemd":
		return &SystemdDeadman{Log: log}, nil
	case "kernel":
		dev := c.Deadman.Device
		if dev == "" {
			dev = "/dev/watchdog"
		}
		d, err := OpenKernelDeadman(dev)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, errors.NotValidf("deadman kind=%s", c.Deadman.Kind)
}
