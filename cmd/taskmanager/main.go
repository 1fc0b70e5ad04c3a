// Command taskmanager runs the compute-farm task dispatcher: it matches
// incoming task requests to a pool of remote worker processes using
// real-time per-host load telemetry, and relays worker output back to the
// requesting client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"taskmanager/internal/config"
	"taskmanager/internal/logsink"
	"taskmanager/internal/registry"
	"taskmanager/internal/server"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: taskmanager [configFile]

optional positional argument:
  configFile  path to the taskManager's YAML configuration file
              (default: ./taskManager.yaml)`)
}

func main() {
	help := flag.Bool("h", false, "show this help message and exit")
	flag.BoolVar(help, "help", false, "show this help message and exit")
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}

	configFile := "taskManager.yaml"
	if flag.NArg() > 0 {
		configFile = flag.Arg(0)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(configFile)
	if err != nil {
		entry.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	reg := registry.New(registry.FilePaths{Orig: cfg.Files.Orig, Dest: cfg.Files.Dest})

	sink := logsink.New(logsink.NewFallbackLogger())
	sink.Connect(cfg.CutelogActions.Host, cfg.CutelogActions.Port)
	defer sink.Close()

	srv := server.New(cfg, reg, sink, entry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		entry.Errorf("server failed: %v", err)
		os.Exit(1)
	}

	entry.Info("shut down cleanly")
}
