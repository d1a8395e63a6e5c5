package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/hub"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	showConfig := flag.Bool("show-config", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *showConfig {
		out, _ := cfg.YAML()
		os.Stdout.Write(out)
		return
	}
	slog.SetDefault(config.SetupLogger(cfg.Log, os.Stdout))

	h := hub.New(cfg.Hub.Listen, cfg.Hub.MaxPeers)

	if cfg.Hub.Advertise {
		_, portStr, err := net.SplitHostPort(cfg.Hub.Listen)
		port, perr := strconv.Atoi(portStr)
		if err != nil || perr != nil {
			slog.Error("Cannot advertise, listen address has no port", "listen", cfg.Hub.Listen)
		} else if err := h.Advertise(cfg.Hub.Instance, port); err != nil {
			slog.Error("mDNS advertisement failed", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := h.Start(); err != nil {
			slog.Error("Error starting mesh hub", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	h.Shutdown()
}
