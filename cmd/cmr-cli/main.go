package main

import (
	"encoding/hex"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/geotracer"
	"github.com/dignet/gpsbridge/helpers"
	"github.com/dignet/gpsbridge/helpers/cli"
	"github.com/dignet/gpsbridge/internal/bridge"
	"github.com/dignet/gpsbridge/log2"
	"github.com/juju/errors"
)

const usage = `syntax: commands separated by whitespace
(main)
- ping          transmit PING
- @KIND:XX...   transmit CMR frame, KIND is name or 4 hex digits, payload hex
- "text         transmit DIGNET message, rest of line is text
- rN            read for N milliseconds, show decoded frames
- sN            pause N milliseconds

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LDebug)

type action func(c *console) error

type console struct {
	link  bridge.Link
	proto string
	cmr   *cmr.Decoder
	geo   *geotracer.Decoder
	buf   []byte
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	devicePath := cmdline.String("device", "/dev/ttyS0", "")
	baud := cmdline.Int("baud", 9600, "")
	proto := cmdline.String("proto", "cmr", "cmr|geotracer decoder for received bytes")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	link, err := bridge.OpenSerial(*devicePath, *baud, 50*time.Millisecond)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	c := &console{
		link:  link,
		proto: *proto,
		cmr:   cmr.NewDecoder(0),
		geo:   geotracer.NewDecoder(),
		buf:   make([]byte, 512),
	}
	defer link.Close()

	cli.MainLoop("cmr-cli", c.executor(), cli.Suggest([]prompt.Suggest{
		{Text: "ping", Description: "transmit PING"},
		{Text: "@dignet:", Description: "transmit CMR frame from hex"},
		{Text: "rN", Description: "read for N ms"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "help"},
	}), func() { _ = link.Close() })
}

func (c *console) executor() cli.Executor {
	return func(line string) {
		as, err := parseLine(line)
		if err != nil {
			log.Errorf("%s", errors.ErrorStack(err))
			return
		}
		for _, a := range as {
			if err = a(c); err != nil {
				log.Errorf("%s", errors.ErrorStack(err))
				return
			}
		}
	}
}

func parseLine(line string) ([]action, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if line[0] == '"' {
		return []action{newTx(cmr.NewDignet(line[1:]))}, nil
	}

	loopn := uint64(1)
	words := strings.Fields(line)
	seq := make([]action, 0, len(words))
	for _, word := range words {
		switch {
		case word == "help":
			return []action{func(*console) error { log.Printf("%s", usage); return nil }}, nil
		case strings.HasPrefix(word, "loop="):
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, errors.Annotatef(err, "word=%s", word)
			}
			loopn = i
		default:
			a, err := parseCommand(word)
			if err != nil {
				return nil, err
			}
			seq = append(seq, a)
		}
	}
	result := make([]action, 0, len(seq)*int(loopn))
	for i := uint64(0); i < loopn; i++ {
		result = append(result, seq...)
	}
	return result, nil
}

func parseCommand(word string) (action, error) {
	switch {
	case word == "log=yes":
		return func(*console) error { log.SetLevel(log2.LDebug); return nil }, nil
	case word == "log=no":
		return func(*console) error { log.SetLevel(log2.LError); return nil }, nil
	case word == "ping":
		return newTx(cmr.Ping), nil
	case word[0] == 's' || word[0] == 'r':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		d := time.Duration(i) * time.Millisecond
		if word[0] == 's' {
			return func(*console) error { time.Sleep(d); return nil }, nil
		}
		return func(c *console) error { return c.read(d) }, nil
	case word[0] == '@':
		p, err := parsePacket(word[1:])
		if err != nil {
			return nil, err
		}
		return newTx(p), nil
	}
	return nil, errors.Errorf("error: invalid command: '%s'", word)
}

// parsePacket accepts KIND:HEX, KIND is a name (dignet, rtcm, serial) or 4 hex digits.
func parsePacket(s string) (cmr.Packet, error) {
	parts := strings.SplitN(s, ":", 2)
	kind, err := parseKind(parts[0])
	if err != nil {
		return cmr.Packet{}, err
	}
	var payload []byte
	if len(parts) == 2 && parts[1] != "" {
		if payload, err = parseHex(parts[1]); err != nil {
			return cmr.Packet{}, errors.Annotatef(err, "payload=%s", parts[1])
		}
	}
	return cmr.NewPacket(kind, payload), nil
}

func parseKind(s string) (cmr.Kind, error) {
	for _, k := range []cmr.Kind{cmr.KindPing, cmr.KindRTCM, cmr.KindSerial, cmr.KindDignet, cmr.KindLampnet} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	x, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errors.NotValidf("cmr kind=%s", s)
	}
	return cmr.Kind(x), nil
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Replace(s, " ", "", -1))
}

func newTx(p cmr.Packet) action {
	return func(c *console) error {
		log.Debugf("> %s", p.String())
		return cmr.Encode(c.link, p)
	}
}

func (c *console) read(d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		n, err := c.link.Poll(c.buf)
		if err != nil {
			return errors.Annotate(err, "serial read")
		}
		if n == 0 {
			continue
		}
		log.Debugf("< raw %s", helpers.HexSpaced(c.buf[:n]))
		switch c.proto {
		case "geotracer":
			c.geo.Feed(c.buf[:n])
			for cmd, ok := c.geo.Pop(); ok; cmd, ok = c.geo.Pop() {
				log.Printf("< %s", cmd.String())
			}
		default:
			c.cmr.Feed(c.buf[:n])
			for p, ok := c.cmr.Pop(); ok; p, ok = c.cmr.Pop() {
				log.Printf("< %s", p.String())
			}
		}
	}
	return nil
}
