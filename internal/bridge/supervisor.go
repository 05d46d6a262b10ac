// Package bridge keeps the device connected to the telemetry server and
// dispatches server and serial traffic to the device mode handler.
package bridge

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/helpers"
	"github.com/dignet/gpsbridge/internal/journal"
	"github.com/dignet/gpsbridge/internal/mode"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type State uint32

const (
	StateConnecting State = iota
	StateConnected
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

const (
	MessageRemoteStop = "STOPPED BY REMOTE CONTROL."

	PingTimeoutFactor         = 6
	DefaultSerialPollsPerTick = 10
	readBufferSize            = 512
)

// Stat keys
const (
	StatConnect    = "connect"
	StatConnectErr = "connect_error"
	StatTimeout    = "timeout"
	StatException  = "exception"
	StatPing       = "ping"
	StatTcpRx      = "tcp_rx"
	StatTcpTx      = "tcp_tx"
	StatSerialRx   = "serial_rx"
	StatSerialTx   = "serial_tx"
)

type Options struct {
	Log       *log2.Log
	Addresses []string
	Port      int
	Dialer    Dialer
	Serial    Link
	Handler   mode.Handler
	Pins      hardware.Pins
	Deadman   hardware.Deadman
	Journal   *journal.Journal
	// first message of every session
	Greeting string

	DeadmanTimeout     time.Duration
	PingInterval       time.Duration
	BackoffTicks       int
	BackoffTick        time.Duration
	SerialPollsPerTick int
	// write "\r\n[note]" connection notes to serial line
	LogToSerial bool

	Now   func() time.Time
	Sleep func(time.Duration)
}

type Supervisor struct {
	opt   Options
	log   *log2.Log
	alive *alive.Alive
	stat  *expvar.Map
	env   sessionEnv

	state       uint32
	serverIndex uint32
	releaseOnce sync.Once

	// owned by worker goroutine
	conn        Link
	tcpTx       *helpers.StatWriter
	serialTx    *helpers.StatWriter
	linkErr     error
	serialErr   bool
	decoder     *cmr.Decoder
	lastInbound time.Time
	buf         []byte
}

func New(opt Options) (*Supervisor, error) {
	if len(opt.Addresses) == 0 {
		return nil, errors.NotValidf("bridge server addresses empty")
	}
	if opt.Handler == nil || opt.Dialer == nil || opt.Serial == nil {
		return nil, errors.NotValidf("bridge options handler/dialer/serial required")
	}
	if opt.Pins == nil {
		opt.Pins = hardware.NoopPins{}
	}
	if opt.Deadman == nil {
		opt.Deadman = hardware.NoopDeadman{}
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = 10 * time.Second
	}
	if opt.BackoffTicks <= 0 {
		opt.BackoffTicks = 10
	}
	if opt.BackoffTick <= 0 {
		opt.BackoffTick = time.Second
	}
	if opt.SerialPollsPerTick <= 0 {
		opt.SerialPollsPerTick = DefaultSerialPollsPerTick
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	self := &Supervisor{
		opt:     opt,
		log:     opt.Log,
		alive:   alive.NewAlive(),
		decoder: cmr.NewDecoder(0),
		buf:     make([]byte, readBufferSize),
		stat: helpers.StatMap(StatConnect, StatConnectErr, StatTimeout, StatException, StatPing,
			StatTcpRx, StatTcpTx, StatSerialRx, StatSerialTx),
	}
	self.env = sessionEnv{self}
	self.serialTx = helpers.NewStatWriter(opt.Serial, helpers.StatInt(self.stat, StatSerialTx), 0)
	return self, nil
}

func (self *Supervisor) State() State      { return State(atomic.LoadUint32(&self.state)) }
func (self *Supervisor) ServerIndex() int  { return int(atomic.LoadUint32(&self.serverIndex)) }
func (self *Supervisor) Stat() *expvar.Map { return self.stat }
func (self *Supervisor) setState(s State)  { atomic.StoreUint32(&self.state, uint32(s)) }
func (self *Supervisor) PingTimeout() time.Duration {
	return PingTimeoutFactor * self.opt.PingInterval
}

// Start runs control loop in new goroutine.
func (self *Supervisor) Start(ctx context.Context) error {
	if !self.alive.Add(1) {
		return errors.New("bridge already stopped")
	}
	if err := self.opt.Handler.Startup(); err != nil {
		self.alive.Done()
		return errors.Annotate(err, "handler startup")
	}
	if self.opt.DeadmanTimeout > 0 {
		if err := self.opt.Deadman.SetTimeout(self.opt.DeadmanTimeout); err != nil {
			self.log.Errorf("deadman set timeout err=%v", err)
		}
	}
	self.logSerial("Started.")
	go func() {
		defer self.alive.Done()
		self.loop(ctx)
		self.alive.Stop()
	}()
	return nil
}

// Run blocks until remote stop, Stop() or ctx cancel.
func (self *Supervisor) Run(ctx context.Context) error {
	if err := self.Start(ctx); err != nil {
		return err
	}
	self.Wait()
	self.release()
	return nil
}

// Wait returns after control loop exits.
func (self *Supervisor) Wait() { self.alive.Wait() }

// Stop waits for control loop to observe request, then releases serial
// line and disables dead-man timer.
func (self *Supervisor) Stop() {
	self.alive.Stop()
	self.alive.Wait()
	self.release()
}

func (self *Supervisor) release() {
	self.releaseOnce.Do(func() {
		if err := self.opt.Serial.Close(); err != nil {
			self.log.Debugf("serial close err=%v", err)
		}
		if err := self.opt.Deadman.SetTimeout(0); err != nil {
			self.log.Errorf("deadman disable err=%v", err)
		}
	})
}

func (self *Supervisor) stopping(ctx context.Context) bool {
	return !self.alive.IsRunning() || ctx.Err() != nil || self.State() == StateStopped
}

func (self *Supervisor) sleep(ctx context.Context, d time.Duration) {
	if self.opt.Sleep != nil {
		self.opt.Sleep(d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-self.alive.StopChan():
	case <-ctx.Done():
	}
}

func (self *Supervisor) loop(ctx context.Context) {
	for !self.stopping(ctx) {
		self.session(ctx)
		if self.stopping(ctx) {
			break
		}
		self.backoff(ctx)
	}
	if self.State() != StateStopped {
		self.setState(StateStopped)
	}
	self.log.Infof("bridge stopped")
}

func (self *Supervisor) address() string {
	host := self.opt.Addresses[self.ServerIndex()]
	return net.JoinHostPort(host, strconv.Itoa(self.opt.Port))
}

func (self *Supervisor) session(ctx context.Context) {
	self.setState(StateConnecting)
	addr := self.address()
	self.logSerial("Connecting to:" + addr)
	self.log.Infof("connecting to %s", addr)
	helpers.StatInt(self.stat, StatConnect).Add(1)
	conn, err := self.opt.Dialer.Dial(ctx, addr)
	if err != nil {
		helpers.StatInt(self.stat, StatConnectErr).Add(1)
		self.log.Infof("connect failed: %v", err)
		self.logSerial("Connect failed:" + err.Error())
		self.opt.Handler.Disconnect()
		return
	}

	self.conn = conn
	self.tcpTx = helpers.NewStatWriter(conn, helpers.StatInt(self.stat, StatTcpTx), 0)
	self.linkErr = nil
	self.decoder.Reset()
	self.setState(StateConnected)
	_ = self.opt.Pins.Set(hardware.LineConnected, true)
	defer self.disconnect()

	if err = self.send(cmr.NewDignet(self.opt.Greeting)); err != nil {
		self.log.Infof("greeting err=%v", err)
		return
	}
	if !self.dispatch("connect", func() (mode.Verdict, error) { return self.opt.Handler.Connect(self.env) }) {
		return
	}
	if !self.dispatch("idle", func() (mode.Verdict, error) { return self.opt.Handler.Idle(self.env) }) {
		return
	}
	self.lastInbound = self.opt.Now()

	for !self.stopping(ctx) {
		if !self.pollServer() {
			return
		}
		if !self.pollSerial() {
			return
		}
		if !self.dispatch("idle", func() (mode.Verdict, error) { return self.opt.Handler.Idle(self.env) }) {
			return
		}
		if !self.deliverJournal() {
			return
		}

		now := self.opt.Now()
		if now.Sub(self.lastInbound) >= self.PingTimeout() {
			helpers.StatInt(self.stat, StatTimeout).Add(1)
			self.log.Infof("server timeout last=%s", self.lastInbound.Format(time.RFC3339))
			last := self.lastInbound
			self.dispatch("timeout", func() (mode.Verdict, error) {
				return mode.Continue, self.opt.Handler.Timeout(self.env, last, now)
			})
			return
		}
	}
}

func (self *Supervisor) disconnect() {
	if self.conn != nil {
		if err := self.conn.Close(); err != nil {
			self.log.Debugf("conn close err=%v", err)
		}
	}
	self.conn = nil
	self.tcpTx = nil
	_ = self.opt.Pins.Set(hardware.LineConnected, false)
	self.log.Debugf("disconnected decoder %s dropped=%d aborted=%d",
		self.decoder.Stat.String(), self.decoder.Dropped(), self.decoder.Aborted())
	self.opt.Handler.Disconnect()
}

// pollServer returns false when session must end.
func (self *Supervisor) pollServer() bool {
	n, err := self.conn.Poll(self.buf)
	if err != nil {
		self.log.Infof("server read err=%v", err)
		return false
	}
	if n == 0 {
		return true
	}
	helpers.StatCount(helpers.StatInt(self.stat, StatTcpRx), n)
	_ = self.opt.Pins.Toggle(hardware.LineTcpTraffic)
	self.lastInbound = self.opt.Now()
	self.decoder.Feed(self.buf[:n])
	for {
		p, ok := self.decoder.Pop()
		if !ok {
			return true
		}
		self.log.Debugf("server packet %s", p.String())
		if !self.dispatch("packet", func() (mode.Verdict, error) { return self.opt.Handler.Packet(self.env, p) }) {
			return false
		}
		if p.Kind == cmr.KindPing {
			helpers.StatInt(self.stat, StatPing).Add(1)
			if err = self.send(cmr.Ping); err != nil {
				self.log.Infof("ping reply err=%v", err)
				return false
			}
			if err = self.opt.Deadman.Reset(); err != nil {
				self.log.Errorf("deadman reset err=%v", err)
			}
		}
	}
}

// pollSerial returns false when session must end.
func (self *Supervisor) pollSerial() bool {
	n, err := self.opt.Serial.Poll(self.buf)
	if err != nil {
		// report once per failure streak
		if !self.serialErr {
			self.log.Errorf("serial read err=%v", err)
		}
		self.serialErr = true
		return true
	}
	self.serialErr = false
	if n == 0 {
		return true
	}
	helpers.StatCount(helpers.StatInt(self.stat, StatSerialRx), n)
	_ = self.opt.Pins.Toggle(hardware.LineSerialTraffic)
	data := self.buf[:n]
	return self.dispatch("serial", func() (mode.Verdict, error) {
		return mode.Continue, self.opt.Handler.Serial(self.env, data)
	})
}

func (self *Supervisor) deliverJournal() bool {
	select {
	case e := <-self.opt.Journal.C():
		err := self.send(cmr.NewDignet(e.String()))
		self.opt.Journal.Ack(err == nil)
		if err != nil {
			self.log.Infof("journal deliver err=%v", err)
			return false
		}
	default:
	}
	return true
}

func (self *Supervisor) backoff(ctx context.Context) {
	self.setState(StateBackoff)
	next := (self.ServerIndex() + 1) % len(self.opt.Addresses)
	atomic.StoreUint32(&self.serverIndex, uint32(next))
	for i := 0; i < self.opt.BackoffTicks && !self.stopping(ctx); i++ {
		self.dispatch("idle", func() (mode.Verdict, error) { return self.opt.Handler.Idle(self.env) })
		for j := 0; j < self.opt.SerialPollsPerTick && !self.stopping(ctx); j++ {
			self.pollSerial()
		}
		if self.stopping(ctx) {
			return
		}
		self.sleep(ctx, self.opt.BackoffTick)
	}
}

// dispatch runs handler event f and applies the outcome.
// Returns false when session must end.
func (self *Supervisor) dispatch(event string, f func() (mode.Verdict, error)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = self.exception(errors.Errorf("%s panic: %v", event, r))
		}
	}()
	v, err := f()
	if self.linkErr != nil {
		self.log.Infof("server write err=%v", self.linkErr)
		return false
	}
	if err != nil {
		return self.exception(errors.Annotate(err, event))
	}
	if v == mode.Stop {
		self.log.Infof("stop requested by %s", event)
		if self.conn != nil {
			_ = self.send(cmr.NewDignet(MessageRemoteStop))
		}
		self.setState(StateStopped)
		return false
	}
	return true
}

func (self *Supervisor) exception(err error) bool {
	helpers.StatInt(self.stat, StatException).Add(1)
	self.log.Error(err)
	self.logSerial("Exception: " + err.Error())
	if self.conn != nil && self.linkErr == nil {
		_ = self.send(cmr.NewDignet("EXCEPTION " + err.Error()))
	}
	return false
}

func (self *Supervisor) send(p cmr.Packet) error {
	if self.conn == nil {
		return nil
	}
	if self.linkErr != nil {
		return self.linkErr
	}
	b, err := cmr.Marshal(p)
	if err != nil {
		return err
	}
	if err = helpers.WriteAll(self.tcpTx, b); err != nil {
		self.linkErr = errors.Annotatef(err, "server write kind=%s", p.Kind)
		return self.linkErr
	}
	return nil
}

func (self *Supervisor) logSerial(msg string) {
	if !self.opt.LogToSerial {
		return
	}
	if _, err := self.serialTx.Write([]byte("\r\n[" + msg + "]")); err != nil {
		self.log.Debugf("serial note err=%v", err)
	}
}

// Greeting identifies device to server.
func Greeting(name, version, date, imei, build string) string {
	return fmt.Sprintf("client name=%s Firmware_Version=%s Firmware_Date=%q IMEI=%q BuildInfo=%q",
		name, version, date, imei, build)
}

// sessionEnv is what mode handlers see of the supervisor.
type sessionEnv struct{ s *Supervisor }

var _ mode.Env = sessionEnv{}

func (e sessionEnv) Online() bool            { return e.s.conn != nil }
func (e sessionEnv) Now() time.Time          { return e.s.opt.Now() }
func (e sessionEnv) Send(p cmr.Packet) error { return e.s.send(p) }
func (e sessionEnv) SendSerial(p cmr.Packet) error {
	return errors.Annotate(cmr.Encode(e.s.serialTx, p), "serial write")
}
func (e sessionEnv) WriteSerial(b []byte) error {
	return errors.Annotate(helpers.WriteAll(e.s.serialTx, b), "serial write")
}
