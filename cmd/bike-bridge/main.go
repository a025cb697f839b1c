package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/app"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/config"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/gatt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/loop"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/status"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bike-bridge: %v\n", err)
		return 1
	}

	logger, debug, closeLog := newLoggers(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := loop.New(logger)

	adapters := cfg.Adapters().Open()
	central := bt.NewCentral(adapters.Bike, logger)
	gattServer := gatt.NewServer(adapters.Server, cfg.ServerName, logger, debug)
	if adapters.Shared {
		central.SetPeerHandler(gattServer.HandleConnection)
	} else {
		serverSide := bt.NewCentral(adapters.Server, logger)
		serverSide.SetPeerHandler(gattServer.HandleConnection)
		if err := serverSide.Enable(); err != nil {
			logger.Printf("Main: server adapter %s: %v", cfg.ServerAdapter, err)
			return 1
		}
	}
	if err := central.Enable(); err != nil {
		logger.Printf("Main: bike adapter %s: %v", cfg.BikeAdapter, err)
		return 1
	}
	scanner := bikes.NewScanner(central)

	kind := cfg.Kind()
	if kind == bikes.KindAutodetect {
		logger.Printf("Main: detecting bike...")
		kind, err = bikes.Detect(ctx, scanner, cfg.PelotonPath, nil)
		if err != nil {
			logger.Printf("Main: %v", err)
			return 1
		}
		logger.Printf("Main: found %s bike", kind)
	}

	deps := bikes.Deps{Loop: l, Logger: logger, Debug: debug, Scanner: scanner}
	client, err := bikes.NewClient(kind, deps, cfg.BikeOptions())
	if err != nil {
		logger.Printf("Main: %v", err)
		return 1
	}

	antService := ant.NewService(l, ant.NewUSBStick(logger), logger, debug, cfg.ANTOptions())
	a := app.New(l, client, []app.Server{gattServer, antService}, logger, debug, cfg.AppOptions())

	if cfg.StatusAddress != "" {
		var bot status.BotController
		if b, ok := client.(*bikes.BotClient); ok {
			bot = b
		}
		st := status.NewServer(logger, a.Snapshots(), bot)
		if err := st.Start(cfg.StatusAddress); err != nil {
			logger.Printf("Main: %v", err)
			return 1
		}
		defer st.Shutdown()
	}

	return a.Run(ctx)
}

// newLoggers returns the main logger, writing to stderr and the optional
// rotated log file, and the per-packet debug logger.
func newLoggers(cfg config.Config) (logger, debug *log.Logger, closeLog func()) {
	var out io.Writer = os.Stderr
	closeLog = func() {}
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(os.Stderr, rotated)
		closeLog = func() { rotated.Close() }
	}
	logger = log.New(out, "", log.LstdFlags|log.Lmicroseconds)

	debugOut := io.Discard
	if cfg.Debug {
		debugOut = out
	}
	debug = log.New(debugOut, "DEBUG ", log.LstdFlags|log.Lmicroseconds)
	return logger, debug, closeLog
}
