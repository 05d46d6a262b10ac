//go:build !linux
// +build !linux

package hardware

import "github.com/juju/errors"

func OpenKernelDeadman(path string) (Deadman, error) {
	return nil, errors.NotSupportedf("kernel watchdog")
}
