package helpers

import (
	"expvar"
	"io"
)

// StatWriter counts bytes written through W into V.
// F is added per call, e.g. to account for framing overhead.
type StatWriter struct {
	W io.Writer
	V *expvar.Int
	F int64
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, v *expvar.Int, fix int64) *StatWriter {
	return &StatWriter{W: w, F: fix, V: v}
}

func (sw *StatWriter) Write(p []byte) (n int, err error) {
	n, err = sw.W.Write(p)
	if n > 0 || sw.F != 0 {
		sw.V.Add(int64(n) + sw.F)
	}
	return
}

// StatCount adds n to v when n is positive. Convenience for poll style reads
// where StatReader does not fit.
func StatCount(v *expvar.Int, n int) {
	if n > 0 {
		v.Add(int64(n))
	}
}

// StatMap returns a fresh unpublished map, so tests and multiple
// instances do not collide on expvar.Publish.
func StatMap(keys ...string) *expvar.Map {
	m := new(expvar.Map).Init()
	for _, k := range keys {
		m.Set(k, new(expvar.Int))
	}
	return m
}

// StatInt fetches counter k from m, creating it on first use.
func StatInt(m *expvar.Map, k string) *expvar.Int {
	if v, ok := m.Get(k).(*expvar.Int); ok {
		return v
	}
	v := new(expvar.Int)
	m.Set(k, v)
	return v
}
