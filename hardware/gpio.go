package hardware

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
)

const consumerLabel = "gpsbridge"

// GpioPins drives IO panel lines through Linux GPIO character device.
type GpioPins struct {
	mu        sync.Mutex
	chip      gpio.Chiper
	lines     gpio.Lineser
	set       [lineCount]gpio.LineSetFunc
	state     [lineCount]bool
	activeLow [lineCount]bool
	analog    Analog
}

var _ Pins = &GpioPins{}

// Open builds Pins from config. Missing pin_chip gives no-op digital lines.
func Open(c *Config) (*GpioPins, error) {
	var analog Analog
	if c.IIODevice != "" {
		analog = &IIO{Dir: c.IIODevice}
	}
	if c.PinChip == "" {
		return &GpioPins{analog: analog}, nil
	}
	chip, err := gpio.Open(c.PinChip, consumerLabel)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", c.PinChip)
	}
	offsets, err := c.Pinmap.Offsets()
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	activeLow, err := c.ActiveLowLines()
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	p, err := NewGpioPins(chip, offsets, activeLow, analog)
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	return p, nil
}

func NewGpioPins(chip gpio.Chiper, offsets map[Line]uint32, activeLow []Line, analog Analog) (*GpioPins, error) {
	self := &GpioPins{chip: chip, analog: analog}
	for _, l := range activeLow {
		self.activeLow[l] = true
	}
	if len(offsets) == 0 {
		return self, nil
	}

	// stable request order helps debugging with gpioinfo
	order := make([]Line, 0, len(offsets))
	for l := range offsets {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	nums := make([]uint32, len(order))
	for i, l := range order {
		nums[i] = offsets[l]
	}

	var err error
	self.lines, err = chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumerLabel, nums...)
	if err != nil {
		return nil, errors.Annotate(err, "gpio OpenLines")
	}
	for _, l := range order {
		self.set[l] = self.lines.SetFunc(offsets[l])
		self.set[l](self.level(l, false))
	}
	if err = self.lines.Flush(); err != nil {
		_ = self.lines.Close()
		return nil, errors.Annotate(err, "gpio initial flush")
	}
	return self, nil
}

func (self *GpioPins) level(l Line, on bool) byte {
	if on != self.activeLow[l] {
		return 1
	}
	return 0
}

func (self *GpioPins) Set(l Line, on bool) error {
	if l >= lineCount {
		return errors.NotValidf("line=%d", l)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.setLocked(l, on)
}

func (self *GpioPins) Toggle(l Line) error {
	if l >= lineCount {
		return errors.NotValidf("line=%d", l)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.setLocked(l, !self.state[l])
}

func (self *GpioPins) setLocked(l Line, on bool) error {
	self.state[l] = on
	f := self.set[l]
	if f == nil {
		return nil
	}
	f(self.level(l, on))
	return errors.Annotatef(self.lines.Flush(), "gpio set %s=%t", l, on)
}

func (self *GpioPins) Analog(in Input) (int, error) {
	if self.analog == nil {
		return 0, errors.NotSupportedf("analog input")
	}
	return self.analog.Read(in)
}

// State reports last value written to l.
func (self *GpioPins) State(l Line) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state[l]
}

func (self *GpioPins) Close() error {
	errs := make([]error, 0, 2)
	if self.lines != nil {
		errs = append(errs, self.lines.Close())
	}
	if self.chip != nil {
		errs = append(errs, self.chip.Close())
	}
	for _, e := range errs {
		if e != nil && !gpio.IsClosed(e) {
			return e
		}
	}
	return nil
}
