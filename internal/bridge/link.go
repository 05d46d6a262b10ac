package bridge

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

// Link is a byte stream polled from the supervisor loop.
// Poll waits at most the link poll timeout; (0, nil) means nothing arrived.
type Link interface {
	io.Writer
	io.Closer
	Poll(b []byte) (int, error)
}

type Dialer interface {
	Dial(ctx context.Context, address string) (Link, error)
}

type NetDialer struct {
	Timeout time.Duration
	Poll    time.Duration
}

func (self NetDialer) Dial(ctx context.Context, address string) (Link, error) {
	d := net.Dialer{Timeout: self.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", address)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewNetLink(conn, self.Poll), nil
}

type netLink struct {
	conn net.Conn
	poll time.Duration
}

func NewNetLink(conn net.Conn, poll time.Duration) Link {
	return &netLink{conn: conn, poll: poll}
}

func (self *netLink) Poll(b []byte) (int, error) {
	if err := self.conn.SetReadDeadline(time.Now().Add(self.poll)); err != nil {
		return 0, errors.Annotate(err, "set read deadline")
	}
	n, err := self.conn.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	if err == io.EOF {
		return n, errors.New("server closed connection")
	}
	return n, err
}

func (self *netLink) Write(b []byte) (int, error) {
	// a stuck server must not freeze the loop forever
	_ = self.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return self.conn.Write(b)
}

func (self *netLink) Close() error { return self.conn.Close() }

type serialLink struct {
	port serial.Port
}

// OpenSerial opens 8N1 serial port with bounded reads.
func OpenSerial(device string, baud int, poll time.Duration) (Link, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "serial open device=%s", device)
	}
	if err = port.SetReadTimeout(poll); err != nil {
		_ = port.Close()
		return nil, errors.Annotatef(err, "serial device=%s set read timeout", device)
	}
	return &serialLink{port: port}, nil
}

// go.bug.st/serial returns (0, nil) when read timeout expires
func (self *serialLink) Poll(b []byte) (int, error)  { return self.port.Read(b) }
func (self *serialLink) Write(b []byte) (int, error) { return self.port.Write(b) }
func (self *serialLink) Close() error                { return self.port.Close() }
