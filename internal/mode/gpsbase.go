package mode

import (
	"strconv"
	"strings"
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/geotracer"
	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
)

type BaseMode uint8

const (
	BaseModeRTCM BaseMode = iota
	BaseModeCommand
	BaseModePowerOff
	BaseModeResetPowerOff
	BaseModeResetPowerOn
	baseModeCount
)

var baseModeNames = [baseModeCount]string{
	BaseModeRTCM:          "RTCM",
	BaseModeCommand:       "COMMAND",
	BaseModePowerOff:      "POWEROFF",
	BaseModeResetPowerOff: "RESET_POWEROFF",
	BaseModeResetPowerOn:  "RESET_POWERON",
}

func (m BaseMode) String() string {
	if m < baseModeCount {
		return baseModeNames[m]
	}
	return "BaseMode(" + strconv.Itoa(int(m)) + ")"
}

func ParseBaseMode(s string) (BaseMode, bool) {
	for i, name := range baseModeNames {
		if strings.EqualFold(s, name) {
			return BaseMode(i), true
		}
	}
	return 0, false
}

type baseFlag uint8

const (
	flagPower baseFlag = 1 << iota
	flagRTCM
	flagReset
)

var baseModeFlags = [baseModeCount]baseFlag{
	BaseModeRTCM:          flagPower | flagRTCM,
	BaseModeCommand:       flagPower,
	BaseModePowerOff:      flagRTCM,
	BaseModeResetPowerOff: flagReset,
	BaseModeResetPowerOn:  flagPower | flagReset,
}

const (
	envMode         = "mode"
	envGPSVoltage   = "gpspowervoltage"
	envSupply       = "supplyvoltage"
	envLogicVoltage = "logicsupplyvoltage"
)

// GpsBase drives GPS base station: power, RTCM relay and factory reset lines.
// In RTCM mode receiver output goes upstream as RTCM packets, in COMMAND mode
// it is parsed as Geotracer protocol.
type GpsBase struct {
	log         *log2.Log
	logToServer bool
	pins        hardware.Pins
	mode        BaseMode
	geo         *geotracer.Decoder
}

var _ Handler = &GpsBase{}

func NewGpsBase(pins hardware.Pins, opt Options) *GpsBase {
	return &GpsBase{
		log:         opt.Log,
		logToServer: opt.LogToServer,
		pins:        pins,
		geo:         geotracer.NewDecoder(),
	}
}

func (self *GpsBase) Mode() BaseMode { return self.mode }

// SetMode asserts exactly the flags of m and deasserts others.
func (self *GpsBase) SetMode(m BaseMode) error {
	if m >= baseModeCount {
		return errors.NotValidf("gpsbase mode=%d", m)
	}
	flags := baseModeFlags[m]
	errs := make([]error, 0, 3)
	errs = append(errs, self.pins.Set(hardware.LinePower, flags&flagPower != 0))
	errs = append(errs, self.pins.Set(hardware.LineRTCMMode, flags&flagRTCM != 0))
	errs = append(errs, self.pins.Set(hardware.LineFactoryReset, flags&flagReset != 0))
	if m != self.mode {
		self.geo.Reset()
	}
	self.mode = m
	self.log.Debugf("gpsbase mode=%s", m)
	for _, e := range errs {
		if e != nil {
			return errors.Annotatef(e, "gpsbase set mode=%s", m)
		}
	}
	return nil
}

func (self *GpsBase) Startup() error { return self.SetMode(BaseModeRTCM) }

func (self *GpsBase) Connect(env Env) (Verdict, error) {
	return Continue, self.sendEnv(env)
}

func (self *GpsBase) Packet(env Env, p cmr.Packet) (Verdict, error) {
	if p.Kind != cmr.KindDignet {
		return Continue, nil
	}
	argv := strings.Split(p.Text(), " ")
	self.remoteLog(env, "argc: "+strconv.Itoa(len(argv)))
	for i, a := range argv {
		self.remoteLog(env, "argv["+strconv.Itoa(i)+"]:"+a)
	}
	return self.command(env, strings.Fields(p.Text()))
}

func (self *GpsBase) command(env Env, args []string) (Verdict, error) {
	if len(args) == 0 {
		return Continue, nil
	}
	switch strings.ToLower(args[0]) {
	case "stop":
		return Stop, nil
	case "env":
		return Continue, self.sendEnv(env)
	case "mode":
		if len(args) < 2 {
			return Continue, env.Send(cmr.NewDignet(self.envLine(envMode)))
		}
		m, ok := ParseBaseMode(args[1])
		if !ok {
			self.remoteLog(env, "unknown mode: "+args[1])
			return Continue, nil
		}
		if err := self.SetMode(m); err != nil {
			return Continue, err
		}
		return Continue, env.Send(cmr.NewDignet(self.envLine(envMode)))
	}
	self.log.Debugf("gpsbase unknown command=%q", args[0])
	return Continue, nil
}

func (self *GpsBase) Serial(env Env, b []byte) error {
	switch self.mode {
	case BaseModeRTCM:
		// RTCM is never fragmented, one read may span several frames
		for len(b) > 0 {
			n := len(b)
			if n > cmr.MaxPayload {
				n = cmr.MaxPayload
			}
			if err := env.Send(cmr.NewPacket(cmr.KindRTCM, b[:n])); err != nil {
				return err
			}
			b = b[n:]
		}
		return nil
	case BaseModeCommand:
		self.geo.Feed(b)
		for {
			c, ok := self.geo.Pop()
			if !ok {
				return nil
			}
			if err := env.Send(cmr.NewDignet("geotracer: " + c.String())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (self *GpsBase) Idle(Env) (Verdict, error) { return Continue, nil }

func (self *GpsBase) Timeout(env Env, last, now time.Time) error {
	return sendTimeout(env, last, now)
}

func (self *GpsBase) Disconnect() {}

func (self *GpsBase) voltage(s hardware.Scale) string {
	mv, err := s.Read(self.pins)
	if err != nil {
		self.log.Debugf("gpsbase read input=%d err=%v", s.Input, err)
		return "?"
	}
	return mv.String()
}

func (self *GpsBase) envLine(name string) string {
	switch name {
	case envMode:
		return name + "=" + self.mode.String()
	case envGPSVoltage:
		return name + "=" + self.voltage(hardware.ScaleGPSPower)
	case envSupply:
		return name + "=" + self.voltage(hardware.ScaleSupply)
	case envLogicVoltage:
		return name + "=" + self.voltage(hardware.ScaleLogicSupply)
	}
	return ""
}

// EnvReport is the newline separated environment message.
func (self *GpsBase) EnvReport() string {
	return strings.Join([]string{
		self.envLine(envMode),
		self.envLine(envGPSVoltage),
		self.envLine(envSupply),
		self.envLine(envLogicVoltage),
	}, "\n")
}

func (self *GpsBase) sendEnv(env Env) error {
	return env.Send(cmr.NewDignet(self.EnvReport()))
}

func (self *GpsBase) remoteLog(env Env, msg string) {
	self.log.Debugf("gpsbase %s", msg)
	if !self.logToServer {
		return
	}
	if err := env.Send(cmr.NewDignet("log: " + msg)); err != nil {
		self.log.Debugf("gpsbase remote log err=%v", err)
	}
}
