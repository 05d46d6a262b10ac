package hardware

import (
	"strconv"
	"time"

	"github.com/juju/errors"
)

type PinMap struct {
	Connected     string `hcl:"connected"`
	TcpTraffic    string `hcl:"tcp_traffic"`
	SerialTraffic string `hcl:"serial_traffic"`
	Power         string `hcl:"power"`
	PacketTraffic string `hcl:"packet_traffic"`
	RTCMMode      string `hcl:"rtcm_mode"`
	FactoryReset  string `hcl:"factory_reset"`
	RTCMTraffic   string `hcl:"rtcm_traffic"`
}

type Config struct {
	// empty disables digital lines
	PinChip   string   `hcl:"pin_chip"`
	Pinmap    PinMap   `hcl:"pinmap"`
	ActiveLow []string `hcl:"active_low"`
	// IIO device directory, e.g. /sys/bus/iio/devices/iio:device0; empty disables analog inputs
	IIODevice string `hcl:"iio_device"`
	Deadman   struct {
		Kind       string `hcl:"kind"` // none, systemd, kernel
		Device     string `hcl:"device"`
		TimeoutSec int    `hcl:"timeout_sec"`
	} `hcl:"deadman"`
	Imei string `hcl:"imei"`
}

// DefaultPinMap is IO panel wiring of the reference board.
var DefaultPinMap = PinMap{
	Connected:     "2",
	TcpTraffic:    "3",
	SerialTraffic: "4",
	Power:         "5",
	PacketTraffic: "6",
	RTCMMode:      "7",
	FactoryReset:  "8",
	RTCMTraffic:   "9",
}

func (pm PinMap) fields() [lineCount]string {
	return [lineCount]string{
		LineConnected:     pm.Connected,
		LineTcpTraffic:    pm.TcpTraffic,
		LineSerialTraffic: pm.SerialTraffic,
		LinePower:         pm.Power,
		LinePacketTraffic: pm.PacketTraffic,
		LineRTCMMode:      pm.RTCMMode,
		LineFactoryReset:  pm.FactoryReset,
		LineRTCMTraffic:   pm.RTCMTraffic,
	}
}

// Offsets parses pin map. Empty or "-" entry leaves line unmapped.
func (pm PinMap) Offsets() (map[Line]uint32, error) {
	m := make(map[Line]uint32, lineCount)
	for i, s := range pm.fields() {
		if s == "" || s == "-" {
			continue
		}
		x, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "pinmap %s=%q", Line(i), s)
		}
		m[Line(i)] = uint32(x)
	}
	return m, nil
}

func (c *Config) ActiveLowLines() ([]Line, error) {
	ls := make([]Line, 0, len(c.ActiveLow))
	for _, s := range c.ActiveLow {
		l, err := ParseLine(s)
		if err != nil {
			return nil, err
		}
		ls = append(ls, l)
	}
	return ls, nil
}

func (c *Config) DeadmanTimeout() time.Duration {
	return time.Duration(c.Deadman.TimeoutSec) * time.Second
}
