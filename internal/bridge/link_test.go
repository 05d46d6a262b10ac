package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetLinkPoll(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	link := NewNetLink(local, 10*time.Millisecond)
	defer link.Close()
	buf := make([]byte, 16)

	n, err := link.Poll(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	go func() { _, _ = remote.Write([]byte{0x02, 0xbc}) }()
	require.Eventually(t, func() bool {
		n, err = link.Poll(buf)
		return err != nil || n > 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xbc}, buf[:n])

	require.NoError(t, remote.Close())
	_, err = link.Poll(buf)
	assert.Error(t, err)
}

func TestNetDialer(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	d := NetDialer{Timeout: time.Second, Poll: 10 * time.Millisecond}
	link, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer link.Close()
	server := <-accepted
	defer server.Close()

	_, err = link.Write([]byte("hi"))
	require.NoError(t, err)
	b := make([]byte, 2)
	_, err = server.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
}

func TestNetDialerRefused(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NetDialer{Timeout: time.Second}.Dial(context.Background(), addr)
	assert.Error(t, err)
}
