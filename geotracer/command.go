// Package geotracer decodes the Geotracer receiver command stream.
// Most commands are ASCII lines terminated by LF, a few carry binary
// payload with a length field at a command specific offset.
package geotracer

import (
	"fmt"
	"strings"

	"github.com/dignet/gpsbridge/helpers"
)

const (
	PacketEnd     = 0x0a
	MaxLineLength = 4096

	NameSkipped   = "SKIPPED"
	NameAWrite    = "AWRITE"
	NameAFileData = "AFILEDATA_"
	NameCU        = "CU"
	NameAVersion  = "AVERSION__"
)

// Command is one decoded frame.
// For AWRITE and AFILEDATA_ Payload is the data section only, header fields
// are in Handle and Length, checksum and terminator are dropped.
// For CU Payload is the frame after the name, starting with satellite count.
// For line commands Payload is everything after the name and its separator through LF.
type Command struct {
	Name    string
	Handle  uint32 // AWRITE
	Length  int    // AWRITE, AFILEDATA_ declared data length
	Payload []byte
}

func (c Command) Text() string {
	return strings.TrimRight(string(c.Payload), "\r\n")
}

func (c Command) String() string {
	switch c.Name {
	case NameAWrite:
		return withHex(fmt.Sprintf("%s L=%d H=%d", c.Name, c.Length, c.Handle), c.Payload)
	case NameAFileData:
		return withHex(fmt.Sprintf("%s L=%d", c.Name, c.Length), c.Payload)
	case NameCU, NameSkipped:
		return withHex(c.Name, c.Payload)
	}
	if text := c.Text(); text != "" {
		return c.Name + " " + text
	}
	return c.Name
}

func withHex(s string, b []byte) string {
	if len(b) == 0 {
		return s
	}
	return s + " " + helpers.HexSpaced(b)
}
