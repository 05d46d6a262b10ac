package state

import (
	"strings"
	"testing"
	"time"

	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, VariantGpsBase, c.Variant)
			assert.Equal(t, []string{DefaultServerAddress}, c.Server.Addresses)
			assert.Equal(t, DefaultServerPort, c.Server.Port)
			assert.Equal(t, 9600, c.Serial.Baud)
			assert.Equal(t, 10*time.Second, c.Server.PingInterval())
			assert.Equal(t, DefaultBackoffTicks, c.Server.BackoffTicks)
			assert.Equal(t, hardware.DefaultPinMap, c.Hardware.Pinmap)
			assert.Equal(t, []string{"power"}, c.Hardware.ActiveLow)
		}, ""},

		{"modembox-baud", `variant = "modembox"`, func(t testing.TB, c *Config) {
			assert.Equal(t, VariantModemBox, c.Variant)
			assert.Equal(t, 57600, c.Serial.Baud)
			assert.Equal(t, "modembox", c.ClientName)
		}, ""},

		{"server", `
server {
	addresses = ["10.0.0.1", "10.0.0.2"]
	port = 7000
	ping_interval_sec = 2
	poll_timeout_ms = 20
}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, c.Server.Addresses)
				assert.Equal(t, 7000, c.Server.Port)
				assert.Equal(t, 2*time.Second, c.Server.PingInterval())
				assert.Equal(t, 20*time.Millisecond, c.Server.PollTimeout())
			},
			"",
		},

		{"hardware", `
hardware {
	pin_chip = "/dev/gpiochip0"
	pinmap { connected = "17" power = "-" }
	deadman { kind = "systemd" timeout_sec = 60 }
}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "/dev/gpiochip0", c.Hardware.PinChip)
				assert.Equal(t, "17", c.Hardware.Pinmap.Connected)
				offsets, err := c.Hardware.Pinmap.Offsets()
				assert.NoError(t, err)
				assert.Equal(t, map[hardware.Line]uint32{hardware.LineConnected: 17}, offsets)
				assert.Equal(t, "systemd", c.Hardware.Deadman.Kind)
				assert.Equal(t, 60, c.Hardware.Deadman.TimeoutSec)
			},
			"",
		},

		{"include-normalize", `
serial { baud = 19200 }
include "./empty" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 19200, c.Serial.Baud)
			}, ""},

		{"include-optional", `
include "port-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7, c.Server.Port)
			}, ""},

		{"include-overwrites", `
server { port = 1 }
include "port-7" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7, c.Server.Port)
			}, ""},

		{"include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-variant", `variant = "toaster"`, nil, "config variant=toaster not valid"},
		{"error-port", `server { port = 70000 }`, nil, "config server port=70000 not valid"},
		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"port-7":       "server{port=7}",
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../gpsbridge.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../gpsbridge.hcl")
	assert.Equal(t, VariantGpsBase, c.Variant)
}
