package hardware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestScale(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		scale  Scale
		raw    int
		expect string
	}{
		{"zero", ScaleSupply, 0, "0.00"},
		{"supply", ScaleSupply, 1464, "12.00"},
		{"logic", ScaleLogicSupply, 1220, "5.00"},
		{"gps", ScaleGPSPower, 610, "5.00"},
		{"modembox", ScaleModemBoxSupply, 700, "12.02"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.expect, c.scale.Convert(c.raw).String())
		})
	}
	assert.Equal(t, "-1.50", Millivolts(-1500).String())
}

func TestScaleRead(t *testing.T) {
	t.Parallel()
	p := NewMockPins()
	p.SetRaw(InputLogic, 244)
	mv, err := ScaleLogicSupply.Read(p)
	require.NoError(t, err)
	assert.Equal(t, Millivolts(1000), mv)
}

func TestPinMapOffsets(t *testing.T) {
	t.Parallel()
	m, err := DefaultPinMap.Offsets()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m[LineConnected])
	assert.Equal(t, uint32(5), m[LinePower])
	assert.Equal(t, uint32(9), m[LineRTCMTraffic])
	assert.Len(t, m, int(lineCount))

	pm := PinMap{Power: "17", Connected: "-"}
	m, err = pm.Offsets()
	require.NoError(t, err)
	assert.Equal(t, map[Line]uint32{LinePower: 17}, m)

	_, err = PinMap{Power: "x"}.Offsets()
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	l, err := ParseLine(" Power ")
	require.NoError(t, err)
	assert.Equal(t, LinePower, l)
	_, err = ParseLine("lamp")
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, "line200", Line(200).String())
}

func TestGpioPins(t *testing.T) {
	t.Parallel()

	levels := map[uint32][]byte{}
	setFunc := func(offset uint32) gpio.LineSetFunc {
		return func(v byte) { levels[offset] = append(levels[offset], v) }
	}
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(2)).Return(setFunc(2))
	lines.On("SetFunc", uint32(5)).Return(setFunc(5))
	lines.On("Flush").Return(nil)
	lines.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, consumerLabel, uint32(2), uint32(5)).Return(lines, nil)
	chip.On("Close").Return(nil)

	offsets := map[Line]uint32{LinePower: 5, LineConnected: 2}
	p, err := NewGpioPins(chip, offsets, []Line{LinePower}, nil)
	require.NoError(t, err)
	// initial state is deasserted, power is active low
	assert.Equal(t, []byte{0}, levels[2])
	assert.Equal(t, []byte{1}, levels[5])

	require.NoError(t, p.Set(LinePower, true))
	require.NoError(t, p.Toggle(LineConnected))
	require.NoError(t, p.Toggle(LineConnected))
	// unmapped line only tracks state
	require.NoError(t, p.Toggle(LineRTCMTraffic))
	assert.True(t, p.State(LineRTCMTraffic))
	assert.Equal(t, []byte{1, 0}, levels[5])
	assert.Equal(t, []byte{0, 1, 0}, levels[2])

	_, err = p.Analog(InputSupply)
	assert.True(t, errors.IsNotSupported(err))
	assert.True(t, errors.IsNotValid(p.Set(lineCount, true)))

	require.NoError(t, p.Close())
	lines.AssertNumberOfCalls(t, "Flush", 4)
	chip.AssertExpectations(t)
	lines.AssertCalled(t, "Close")
	lines.AssertExpectations(t)
}

func TestIIO(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage1_raw"), []byte("1464\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in_voltage2_raw"), []byte("junk"), 0644))

	p, err := Open(&Config{IIODevice: dir})
	require.NoError(t, err)
	mv, err := ScaleSupply.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "12.00", mv.String())
	_, err = ScaleGPSPower.Read(p)
	assert.Error(t, err)
	_, err = ScaleLogicSupply.Read(p)
	assert.Error(t, err)
	// digital lines are no-op without pin chip
	assert.NoError(t, p.Toggle(LineTcpTraffic))
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	id, err := Identity("356938035643809")
	require.NoError(t, err)
	assert.Equal(t, "356938035643809", id)
}

func TestNewDeadman(t *testing.T) {
	t.Parallel()
	d, err := NewDeadman(&Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, NoopDeadman{}, d)

	c := &Config{}
	c.Deadman.Kind = "systemd"
	d, err = NewDeadman(c, nil)
	require.NoError(t, err)
	// NOTIFY_SOCKET is unset in tests, sd_notify is a no-op
	assert.NoError(t, d.SetTimeout(0))
	assert.NoError(t, d.Reset())

	c.Deadman.Kind = "lamp"
	_, err = NewDeadman(c, nil)
	assert.True(t, errors.IsNotValid(err))
}
