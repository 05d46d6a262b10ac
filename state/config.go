package state

import (
	"path/filepath"
	"time"

	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/helpers"
	"github.com/dignet/gpsbridge/internal/mode"
	"github.com/dignet/gpsbridge/log2"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

const (
	VariantGpsBase  = mode.VariantGpsBase
	VariantModemBox = mode.VariantModemBox

	DefaultServerAddress = "194.204.26.104"
	DefaultServerPort    = 5002
	DefaultPingInterval  = 10 * time.Second
	DefaultPollTimeout   = 100 * time.Millisecond
	DefaultDialTimeout   = 30 * time.Second
	DefaultBackoffTicks  = 10
	DefaultBackoffTick   = 1 * time.Second
	DefaultDeadman       = 15 * time.Minute
	DefaultSerialDevice  = "/dev/ttyS0"
	DefaultJournalPath   = "/var/lib/gpsbridge/journal"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Variant         string `hcl:"variant"`
	ClientName      string `hcl:"client_name"`
	FirmwareVersion string `hcl:"firmware_version"`
	FirmwareDate    string `hcl:"firmware_date"`
	BuildInfo       string `hcl:"build_info"`

	Server   ServerConfig    `hcl:"server"`
	Serial   SerialConfig    `hcl:"serial"`
	Hardware hardware.Config `hcl:"hardware"`
	Journal  struct {
		Enable bool   `hcl:"enable"`
		Path   string `hcl:"path"`
	} `hcl:"journal"`
	Log struct {
		Level string `hcl:"level"`
		// mirror handler diagnostics upstream as "log: ..." messages
		ToServer bool `hcl:"to_server"`
	} `hcl:"log"`
}

type ServerConfig struct {
	Addresses       []string `hcl:"addresses"`
	Port            int      `hcl:"port"`
	DialTimeoutSec  int      `hcl:"dial_timeout_sec"`
	PingIntervalSec int      `hcl:"ping_interval_sec"`
	PollTimeoutMs   int      `hcl:"poll_timeout_ms"`
	BackoffTicks    int      `hcl:"backoff_ticks"`
	BackoffTickMs   int      `hcl:"backoff_tick_ms"`
}

func (c *ServerConfig) PingInterval() time.Duration {
	return helpers.IntSecondDefault(c.PingIntervalSec, DefaultPingInterval)
}
func (c *ServerConfig) DialTimeout() time.Duration {
	return helpers.IntSecondDefault(c.DialTimeoutSec, DefaultDialTimeout)
}
func (c *ServerConfig) PollTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.PollTimeoutMs, DefaultPollTimeout)
}
func (c *ServerConfig) BackoffTick() time.Duration {
	return helpers.IntMillisecondDefault(c.BackoffTickMs, DefaultBackoffTick)
}

type SerialConfig struct {
	Device string `hcl:"device"`
	Baud   int    `hcl:"baud"`
	// write "\r\n[message]" supervisor notes to the serial line
	LogToSerial bool `hcl:"log_to_serial"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// Defaults fills unset values. Serial speed depends on variant.
func (c *Config) Defaults() {
	if c.Variant == "" {
		c.Variant = VariantGpsBase
	}
	if c.ClientName == "" {
		c.ClientName = c.Variant
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = "0.9"
	}
	if len(c.Server.Addresses) == 0 {
		c.Server.Addresses = []string{DefaultServerAddress}
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.BackoffTicks == 0 {
		c.Server.BackoffTicks = DefaultBackoffTicks
	}
	if c.Serial.Device == "" {
		c.Serial.Device = DefaultSerialDevice
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 9600
		if c.Variant == VariantModemBox {
			c.Serial.Baud = 57600
		}
	}
	if c.Hardware.Pinmap == (hardware.PinMap{}) {
		c.Hardware.Pinmap = hardware.DefaultPinMap
		if len(c.Hardware.ActiveLow) == 0 {
			c.Hardware.ActiveLow = []string{hardware.LinePower.String()}
		}
	}
	if c.Hardware.Deadman.TimeoutSec == 0 {
		c.Hardware.Deadman.TimeoutSec = int(DefaultDeadman / time.Second)
	}
	if c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath
	}
}

func (c *Config) Validate() error {
	switch c.Variant {
	case VariantGpsBase, VariantModemBox:
	default:
		return errors.NotValidf("config variant=%s", c.Variant)
	}
	for _, a := range c.Server.Addresses {
		if a == "" {
			return errors.NotValidf("config server address empty")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 0xffff {
		return errors.NotValidf("config server port=%d", c.Server.Port)
	}
	return nil
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values overwrite earlier.
// Defaults are applied after all sources, then Validate.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		c.Defaults()
		errs = append(errs, c.Validate())
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
