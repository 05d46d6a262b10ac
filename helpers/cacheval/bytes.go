// Byte slice value with validity timeout.
// Caller supplies timestamps so the owner loop can run on a fake clock.
// Not thread-safe: meant for single goroutine state like per-port caches.
// Usage scenario examples: last GPS fix sentence, sensor reading.
package cacheval

import "time"

type Bytes struct {
	value   []byte
	updated time.Time
	valid   time.Duration
}

// `valid` duration cannot be changed later.
func (c *Bytes) Init(valid time.Duration) {
	c.valid = valid
	c.value = nil
	c.updated = time.Time{}
}

// Returns current (possibly stale) value.
func (c *Bytes) Get() []byte { return c.value }

// Age since last Set. Zero time value is reported as ok=false.
func (c *Bytes) Age(now time.Time) (time.Duration, bool) {
	if c.updated.IsZero() {
		return 0, false
	}
	return now.Sub(c.updated), true
}

// Returns value and true only when it was set less than `valid` ago.
// Boundary is exclusive: age == valid is stale.
func (c *Bytes) GetFresh(now time.Time) ([]byte, bool) {
	age, ok := c.Age(now)
	if !ok || age < 0 || age >= c.valid {
		return c.value, false
	}
	return c.value, true
}

// Stores a copy of b.
func (c *Bytes) Set(b []byte, now time.Time) {
	c.value = append(c.value[:0], b...)
	c.updated = now
}
