package mode

import (
	"time"

	"github.com/dignet/gpsbridge/cmr"
)

type fakeEnv struct {
	online bool
	now    time.Time
	server []cmr.Packet
	serial []cmr.Packet
	raw    []byte
}

var _ Env = &fakeEnv{}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{online: true, now: time.Date(2019, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (e *fakeEnv) Online() bool   { return e.online }
func (e *fakeEnv) Now() time.Time { return e.now }
func (e *fakeEnv) Send(p cmr.Packet) error {
	if e.online {
		e.server = append(e.server, p)
	}
	return nil
}
func (e *fakeEnv) SendSerial(p cmr.Packet) error {
	e.serial = append(e.serial, p)
	return nil
}
func (e *fakeEnv) WriteSerial(b []byte) error {
	e.raw = append(e.raw, b...)
	return nil
}

func (e *fakeEnv) texts() []string {
	ss := make([]string, 0, len(e.server))
	for _, p := range e.server {
		ss = append(ss, p.Text())
	}
	return ss
}
