package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/hardware"
	"github.com/mbocsi/meshswitch/mcp"
	"github.com/mbocsi/meshswitch/node"
	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
	"github.com/mbocsi/meshswitch/web"
)

const firmware = "1.0.0"

// hardwareAddr uses the configured address or the first interface with a MAC.
func hardwareAddr(configured string) (proto.Addr, error) {
	if configured != "" {
		return proto.ParseAddr(configured)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return proto.Addr{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		var a proto.Addr
		copy(a[:], iface.HardwareAddr)
		return a, nil
	}
	return proto.Addr{}, errors.New("no interface with a hardware address, set mesh.addr")
}

func hubURL(cfg *config.Settings, netName string) (string, error) {
	if cfg.Mesh.Hub != "" {
		return cfg.Mesh.Hub, nil
	}
	slog.Info("No hub configured, looking for one over mDNS", "net", netName)
	hub, err := transport.Discover(netName, cfg.Mesh.DiscoverTimeout)
	if err != nil {
		return "", err
	}
	slog.Info("Found mesh hub", "name", hub.Name, "url", hub.URL())
	return hub.URL(), nil
}

func openBoard(chip string) (hardware.Board, error) {
	if chip == "" {
		slog.Warn("No GPIO chip configured, relay and buttons are simulated")
		return hardware.NewMemoryBoard(), nil
	}
	return hardware.OpenGPIO(chip)
}

func restart() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	slog.Info("Restarting", "exe", exe)
	return syscall.Exec(exe, os.Args, os.Environ())
}

func run(cfg *config.Settings) error {
	addr, err := hardwareAddr(cfg.Mesh.Addr)
	if err != nil {
		return fmt.Errorf("hardware address: %w", err)
	}

	store := config.NewFileStore(cfg.Device.Store)
	suffix := strings.ReplaceAll(addr.String()[9:], ":", "")
	record, err := store.LoadOrCreate(config.DefaultDevice(firmware, cfg.Mesh.Net, suffix))
	if err != nil {
		return fmt.Errorf("device record: %w", err)
	}

	url, err := hubURL(cfg, record.NetName)
	if err != nil {
		return fmt.Errorf("mesh hub: %w", err)
	}
	cipher, err := transport.NewCipher(cfg.Mesh.Key)
	if err != nil {
		return fmt.Errorf("mesh key: %w", err)
	}
	mesh, err := transport.NewWSMesh(transport.WSMeshOptions{URL: url, Addr: addr, Net: record.NetName, Cipher: cipher})
	if err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	defer mesh.Close()

	board, err := openBoard(cfg.Device.Chip)
	if err != nil {
		return fmt.Errorf("gpio: %w", err)
	}
	defer board.Close()

	var sensor hardware.Sensor
	if record.HasSensor() {
		sensor, err = hardware.OpenSensor(record.SensorType, cfg.Device.SensorPath)
		if err != nil {
			slog.Warn("Sensor unavailable", "type", record.SensorType, "error", err)
			sensor = nil
		}
	}

	portal := web.NewPortal(cfg.Portal.Addr, nil, cfg.Portal.Assets)
	n := node.New(record, node.Options{
		Mesh:     mesh,
		Board:    board,
		Sensor:   sensor,
		Store:    store,
		Portal:   portal,
		Timing:   cfg.Timing,
		Firmware: firmware,
	})
	portal.SetDevice(n)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MCP.Enabled {
		server := mcp.NewMCPServer("meshswitch", firmware)
		mcp.NewDeviceTools(server, n)
		go func() {
			if err := server.Run(); err != nil {
				slog.Error("MCP server stopped", "error", err)
			}
		}()
	}

	if err := n.Start(time.Now()); err != nil {
		return err
	}
	return n.Run(ctx)
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
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	// stdout belongs to the MCP transport when it is enabled
	var logOut io.Writer = os.Stdout
	if cfg.MCP.Enabled {
		logOut = os.Stderr
	}
	slog.SetDefault(config.SetupLogger(cfg.Log, logOut))

	err = run(cfg)
	switch {
	case errors.Is(err, node.ErrRestart):
		if err := restart(); err != nil {
			slog.Error("Restart failed", "error", err)
			os.Exit(1)
		}
	case errors.Is(err, context.Canceled):
		slog.Info("Shutting down")
	case err != nil:
		slog.Error("Switch stopped", "error", err)
		os.Exit(1)
	}
}
