package hardware

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// KernelDeadman drives Linux watchdog device.
// Any write pets the timer, "V" before close disarms it.
type KernelDeadman struct {
	fd int
}

func OpenKernelDeadman(path string) (*KernelDeadman, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Annotatef(err, "watchdog open path=%s", path)
	}
	return &KernelDeadman{fd: fd}, nil
}

func (self *KernelDeadman) SetTimeout(d time.Duration) error {
	if self.fd < 0 {
		return nil
	}
	if d == 0 {
		_, err := unix.Write(self.fd, []byte("V"))
		cerr := unix.Close(self.fd)
		self.fd = -1
		if err != nil {
			return errors.Annotate(err, "watchdog magic close")
		}
		return errors.Annotate(cerr, "watchdog close")
	}
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return errors.Annotate(unix.IoctlSetPointerInt(self.fd, unix.WDIOC_SETTIMEOUT, secs), "watchdog WDIOC_SETTIMEOUT")
}

func (self *KernelDeadman) Reset() error {
	if self.fd < 0 {
		return nil
	}
	_, err := unix.Write(self.fd, []byte{0})
	return errors.Annotate(err, "watchdog keepalive")
}
