// Package journal keeps diagnostics on disk while the server is unreachable
// and hands them to the supervisor one at a time after reconnect.
// Delivery is at least once.
package journal

import (
	"encoding/binary"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
	"github.com/temoto/spq"
)

const (
	defaultRetryInterval = 5 * time.Second
	headerLen            = 8
	// entries longer than this are truncated, one entry is one CMR frame upstream
	MaxText = 200
)

// OnlyForTesting opens in-memory storage.
const OnlyForTesting = spq.OnlyForTesting

type Entry struct {
	Time time.Time
	Text string
}

func (e Entry) String() string {
	return "journal: " + e.Time.Format("2006-01-02 15:04:05") + " " + e.Text
}

func marshal(t time.Time, text string) []byte {
	if len(text) > MaxText {
		n := MaxText
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	b := make([]byte, headerLen+len(text))
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()/int64(time.Millisecond)))
	copy(b[headerLen:], text)
	return b
}

func unmarshal(b []byte) (Entry, error) {
	if len(b) < headerLen {
		return Entry{}, errors.NotValidf("journal entry length=%d", len(b))
	}
	ms := int64(binary.BigEndian.Uint64(b))
	return Entry{
		Time: time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)),
		Text: string(b[headerLen:]),
	}, nil
}

// Journal contract:
// - Push blocks at most for disk write
// - C yields oldest entry, next one only after Ack
// - Ack(false) offers the same entry again after RetryInterval
// - nil *Journal is valid: Push discards, C never yields
type Journal struct {
	log           *log2.Log
	q             *spq.Queue
	out           chan Entry
	ack           chan bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	RetryInterval time.Duration
}

func Open(log *log2.Log, path string) (*Journal, error) {
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "journal open path=%s", path)
	}
	j := &Journal{
		log:           log,
		q:             q,
		out:           make(chan Entry),
		ack:           make(chan bool),
		stopCh:        make(chan struct{}),
		RetryInterval: defaultRetryInterval,
	}
	j.wg.Add(1)
	go j.worker()
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	close(j.stopCh)
	err := j.q.Close()
	j.wg.Wait()
	return err
}

func (j *Journal) Push(t time.Time, text string) error {
	if j == nil {
		return nil
	}
	return errors.Annotate(j.q.Push(marshal(t, text)), "journal push")
}

// ErrorFunc records logged errors. Journal failures are reported at debug
// level only so they do not loop back here.
func (j *Journal) ErrorFunc() log2.ErrorFunc {
	return func(e error) {
		if err := j.Push(time.Now(), e.Error()); err != nil {
			j.log.Debugf("journal drop err=%v", err)
		}
	}
}

// C is nil for nil journal, receive from it blocks forever.
func (j *Journal) C() <-chan Entry {
	if j == nil {
		return nil
	}
	return j.out
}

// Ack must follow every entry received from C.
func (j *Journal) Ack(delivered bool) {
	if j == nil {
		return
	}
	select {
	case j.ack <- delivered:
	case <-j.stopCh:
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()
	for {
		box, err := j.q.Peek()
		switch err {
		case nil: // success path
		case spq.ErrClosed:
			return
		default:
			j.log.Debugf("journal peek err=%v", err)
			if !j.sleep(j.RetryInterval) {
				return
			}
			continue
		}

		e, err := unmarshal(box.Bytes())
		if err != nil {
			j.log.Debugf("journal drop corrupt entry err=%v", err)
			_ = j.q.Delete(box)
			continue
		}

		select {
		case j.out <- e:
		case <-j.stopCh:
			return
		}
		var delivered bool
		select {
		case delivered = <-j.ack:
		case <-j.stopCh:
			return
		}
		if delivered {
			if err = j.q.Delete(box); err != nil && err != spq.ErrClosed {
				j.log.Debugf("journal delete err=%v", err)
			}
		} else if !j.sleep(j.RetryInterval) {
			return
		}
	}
}

func (j *Journal) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-j.stopCh:
		return false
	}
}
