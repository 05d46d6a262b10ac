package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/dignet/gpsbridge/hardware"
	"github.com/dignet/gpsbridge/internal/bridge"
	"github.com/dignet/gpsbridge/internal/journal"
	"github.com/dignet/gpsbridge/internal/mode"
	"github.com/dignet/gpsbridge/log2"
	"github.com/dignet/gpsbridge/state"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// set with -ldflags "-X main.BuildVersion=..."
var BuildVersion = "unknown"

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "gpsbridge.hcl", "")
	flagDebug := flag.Bool("debug", false, "override log level")
	flag.Parse()

	if sdnotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("gpsbridge version=%s", BuildVersion)

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if level, ok := log2.ParseLevel(config.Log.Level); ok {
		log.SetLevel(level)
	} else if config.Log.Level != "" {
		log.Errorf("config log level=%s unknown", config.Log.Level)
	}
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config=%+v", config)

	if err := run(config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func run(config *state.Config) error {
	var jour *journal.Journal
	if config.Journal.Enable {
		var err error
		if jour, err = journal.Open(log, config.Journal.Path); err != nil {
			return err
		}
		defer jour.Close()
		log.SetErrorFunc(jour.ErrorFunc())
	}

	pins, err := hardware.Open(&config.Hardware)
	if err != nil {
		return err
	}
	defer pins.Close()
	deadman, err := hardware.NewDeadman(&config.Hardware, log)
	if err != nil {
		return err
	}
	imei, err := hardware.Identity(config.Hardware.Imei)
	if err != nil {
		return err
	}
	serial, err := bridge.OpenSerial(config.Serial.Device, config.Serial.Baud, config.Server.PollTimeout())
	if err != nil {
		return err
	}
	handler, err := mode.New(config.Variant, pins, mode.Options{
		Log:         log,
		LogToServer: config.Log.ToServer,
	})
	if err != nil {
		return err
	}

	buildInfo := config.BuildInfo
	if buildInfo == "" {
		buildInfo = BuildVersion
	}
	sup, err := bridge.New(bridge.Options{
		Log:       log,
		Addresses: config.Server.Addresses,
		Port:      config.Server.Port,
		Dialer: bridge.NetDialer{
			Timeout: config.Server.DialTimeout(),
			Poll:    config.Server.PollTimeout(),
		},
		Serial:         serial,
		Handler:        handler,
		Pins:           pins,
		Deadman:        deadman,
		Journal:        jour,
		Greeting:       bridge.Greeting(config.ClientName, config.FirmwareVersion, config.FirmwareDate, imei, buildInfo),
		DeadmanTimeout: config.Hardware.DeadmanTimeout(),
		PingInterval:   config.Server.PingInterval(),
		BackoffTicks:   config.Server.BackoffTicks,
		BackoffTick:    config.Server.BackoffTick(),
		LogToSerial:    config.Serial.LogToSerial,
	})
	if err != nil {
		_ = serial.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Infof("signal=%v stopping", s)
		cancel()
	}()

	if err = sup.Start(ctx); err != nil {
		_ = serial.Close()
		return err
	}
	sdnotify(daemon.SdNotifyReady)
	log.Infof("running variant=%s servers=%v", config.Variant, config.Server.Addresses)
	sup.Wait()
	sdnotify(daemon.SdNotifyStopping)
	sup.Stop()
	log.Infof("stat %s", sup.Stat().String())
	return nil
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
