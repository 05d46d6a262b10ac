package hardware

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

type Analog interface {
	Read(in Input) (int, error)
}

// IIO reads raw ADC values from Linux industrial IO sysfs:
// <Dir>/in_voltage<N>_raw
type IIO struct {
	Dir string
}

func (self *IIO) Read(in Input) (int, error) {
	path := filepath.Join(self.Dir, "in_voltage"+strconv.Itoa(int(in))+"_raw")
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Annotate(err, "iio read")
	}
	x, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Annotatef(err, "iio parse path=%s", path)
	}
	return x, nil
}
