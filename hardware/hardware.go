// Package hardware abstracts bridge IO panel: indicator and control lines,
// analog voltage inputs, device identity and dead-man timer.
package hardware

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Line is logical digital output. Set(line, true) asserts it,
// physical level depends on active-low config.
type Line uint8

const (
	LineConnected Line = iota
	LineTcpTraffic
	LineSerialTraffic
	LinePower
	LinePacketTraffic
	LineRTCMMode
	LineFactoryReset
	LineRTCMTraffic
	lineCount
)

var lineNames = [lineCount]string{
	LineConnected:     "connected",
	LineTcpTraffic:    "tcp_traffic",
	LineSerialTraffic: "serial_traffic",
	LinePower:         "power",
	LinePacketTraffic: "packet_traffic",
	LineRTCMMode:      "rtcm_mode",
	LineFactoryReset:  "factory_reset",
	LineRTCMTraffic:   "rtcm_traffic",
}

func (l Line) String() string {
	if l < lineCount {
		return lineNames[l]
	}
	return fmt.Sprintf("line%d", uint8(l))
}

func ParseLine(s string) (Line, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range lineNames {
		if name == s {
			return Line(i), nil
		}
	}
	return 0, errors.NotValidf("hardware line=%q", s)
}

// Input is analog input channel number.
type Input uint8

const (
	InputSupply Input = 1
	InputGPS    Input = 2
	InputLogic  Input = 3
)

type Pins interface {
	Set(l Line, on bool) error
	Toggle(l Line) error
	// Analog returns raw 10 bit ADC reading.
	Analog(in Input) (int, error)
}

// Millivolts formats as volts with two decimals.
type Millivolts int32

func (mv Millivolts) String() string {
	sign := ""
	if mv < 0 {
		sign = "-"
		mv = -mv
	}
	return fmt.Sprintf("%s%d.%02d", sign, mv/1000, (mv%1000)/10)
}

// ADC full range reading is scaled by Num/Den/244 to volts.
const adcDivisor = 244

// Scale maps raw ADC input to voltage through external divider Num/Den.
type Scale struct {
	Input Input
	Num   int
	Den   int
}

var (
	ScaleSupply         = Scale{InputSupply, 2, 1}
	ScaleGPSPower       = Scale{InputGPS, 2, 1}
	ScaleLogicSupply    = Scale{InputLogic, 1, 1}
	ScaleModemBoxSupply = Scale{InputSupply, 150 + 47, 47} // 1500+470 ohm divider
)

func (s Scale) Convert(raw int) Millivolts {
	return Millivolts(int64(raw) * int64(s.Num) * 1000 / (int64(s.Den) * adcDivisor))
}

func (s Scale) Read(p Pins) (Millivolts, error) {
	raw, err := p.Analog(s.Input)
	if err != nil {
		return 0, errors.Annotatef(err, "analog input=%d", s.Input)
	}
	return s.Convert(raw), nil
}

// NoopPins is used when no IO panel is configured.
type NoopPins struct{}

func (NoopPins) Set(Line, bool) error          { return nil }
func (NoopPins) Toggle(Line) error             { return nil }
func (NoopPins) Analog(in Input) (int, error) { return 0, nil }
