package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/gateway"
	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
)

func run(cfg *config.Settings) error {
	if cfg.Mesh.Addr == "" {
		return errors.New("mesh.addr is required for the gateway")
	}
	addr, err := proto.ParseAddr(cfg.Mesh.Addr)
	if err != nil {
		return err
	}

	url := cfg.Mesh.Hub
	if url == "" {
		hub, err := transport.Discover(cfg.Mesh.Net, cfg.Mesh.DiscoverTimeout)
		if err != nil {
			return fmt.Errorf("mesh hub: %w", err)
		}
		url = hub.URL()
	}
	cipher, err := transport.NewCipher(cfg.Mesh.Key)
	if err != nil {
		return fmt.Errorf("mesh key: %w", err)
	}
	mesh, err := transport.NewWSMesh(transport.WSMeshOptions{URL: url, Addr: addr, Net: cfg.Mesh.Net, Cipher: cipher})
	if err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	defer mesh.Close()

	bridge := gateway.DialMQTT(cfg.Gateway)
	defer bridge.Close()

	g := gateway.New(gateway.OptionsFrom(cfg, mesh, bridge))
	if err := g.Start(time.Now()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return g.Run(ctx)
}

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

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down")
}
