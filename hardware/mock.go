package hardware

import (
	"sync"
	"time"
)

// MockPins records line activity for tests.
type MockPins struct {
	mu      sync.Mutex
	state   [lineCount]bool
	toggles [lineCount]int
	Raw     map[Input]int
}

var _ Pins = &MockPins{}

func NewMockPins() *MockPins {
	return &MockPins{Raw: make(map[Input]int)}
}

func (self *MockPins) Set(l Line, on bool) error {
	self.mu.Lock()
	self.state[l] = on
	self.mu.Unlock()
	return nil
}

func (self *MockPins) Toggle(l Line) error {
	self.mu.Lock()
	self.state[l] = !self.state[l]
	self.toggles[l]++
	self.mu.Unlock()
	return nil
}

func (self *MockPins) Analog(in Input) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.Raw[in], nil
}

func (self *MockPins) SetRaw(in Input, raw int) {
	self.mu.Lock()
	self.Raw[in] = raw
	self.mu.Unlock()
}

func (self *MockPins) State(l Line) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state[l]
}

func (self *MockPins) Toggles(l Line) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.toggles[l]
}

// MockDeadman counts resets and remembers last timeout.
type MockDeadman struct {
	mu      sync.Mutex
	timeout time.Duration
	resets  int
}

func (self *MockDeadman) SetTimeout(d time.Duration) error {
	self.mu.Lock()
	self.timeout = d
	self.mu.Unlock()
	return nil
}

func (self *MockDeadman) Reset() error {
	self.mu.Lock()
	self.resets++
	self.mu.Unlock()
	return nil
}

func (self *MockDeadman) Timeout() time.Duration {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.timeout
}

func (self *MockDeadman) Resets() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.resets
}
