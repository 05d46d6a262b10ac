package journal

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t testing.TB, j *Journal) Entry {
	select {
	case e := <-j.C():
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("journal entry timeout")
	}
	return Entry{}
}

func TestJournalOrder(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	j, err := Open(log, OnlyForTesting)
	require.NoError(t, err)
	defer j.Close()

	t0 := time.Date(2019, 10, 1, 12, 0, 0, 0, time.Local)
	require.NoError(t, j.Push(t0, "first"))
	require.NoError(t, j.Push(t0.Add(time.Second), "second"))

	e := receive(t, j)
	assert.Equal(t, "first", e.Text)
	assert.True(t, t0.Equal(e.Time))
	assert.Equal(t, "journal: 2019-10-01 12:00:00 first", e.String())
	j.Ack(true)
	e = receive(t, j)
	assert.Equal(t, "second", e.Text)
	j.Ack(true)

	select {
	case e = <-j.C():
		t.Fatalf("unexpected entry=%v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJournalRetry(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	j, err := Open(log, OnlyForTesting)
	require.NoError(t, err)
	defer j.Close()
	j.RetryInterval = time.Millisecond

	require.NoError(t, j.Push(time.Now(), "again"))
	assert.Equal(t, "again", receive(t, j).Text)
	j.Ack(false)
	assert.Equal(t, "again", receive(t, j).Text)
	j.Ack(true)
}

func TestJournalErrorFunc(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	j, err := Open(log, OnlyForTesting)
	require.NoError(t, err)
	defer j.Close()

	log.SetErrorFunc(j.ErrorFunc())
	log.Error(errors.New("serial open"))
	e := receive(t, j)
	assert.Equal(t, "serial open", e.Text)
	j.Ack(true)
}

func TestJournalTruncate(t *testing.T) {
	t.Parallel()
	e, err := unmarshal(marshal(time.Now(), strings.Repeat("x", MaxText+10)))
	require.NoError(t, err)
	assert.Len(t, e.Text, MaxText)
	_, err = unmarshal([]byte{1, 2})
	assert.True(t, errors.IsNotValid(err))

	// 3 byte rune straddles the limit
	e, err = unmarshal(marshal(time.Now(), strings.Repeat("x", MaxText-1)+"€"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", MaxText-1), e.Text)
	assert.True(t, utf8.ValidString(e.Text))
}

func TestJournalNil(t *testing.T) {
	t.Parallel()
	var j *Journal
	assert.NoError(t, j.Push(time.Now(), "x"))
	assert.Nil(t, j.C())
	j.Ack(true)
	assert.NoError(t, j.Close())
}
