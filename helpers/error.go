package helpers

import (
	"io"
	"strings"

	"github.com/juju/errors"
)

func FoldErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	return errors.New(strings.Join(ss, "\n"))
}

// CloseAll closes every non-nil closer and folds their errors.
func CloseAll(cs ...io.Closer) error {
	errs := make([]error, 0, len(cs))
	for _, c := range cs {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return FoldErrors(errs)
}
