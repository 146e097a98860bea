// modemsim is a cellular modem simulator: it speaks an AT-command
// protocol over a serial line and bridges the data-plane commands to
// live TCP networking.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/comx-labs/modemsim/pkg/bridge"
	"github.com/comx-labs/modemsim/pkg/dispatcher"
	"github.com/comx-labs/modemsim/pkg/events"
	"github.com/comx-labs/modemsim/pkg/eventloop"
	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/modemconfig"
	"github.com/comx-labs/modemsim/pkg/monitor"
	"github.com/comx-labs/modemsim/pkg/registry"
	"github.com/comx-labs/modemsim/pkg/serialport"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"

	cfgFile   string
	verbose   bool
	baud      int
	framing   string
	logFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "modemsim <tcp_port> <serial_port_path>",
		Short:   "Cellular modem AT-command simulator",
		Long:    "modemsim simulates a cellular data modem over a serial line, bridging data-plane AT commands to live TCP networking.",
		Version: version,
		Args:    cobra.RangeArgs(2, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "monitor config file (default: monitor disabled)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&baud, "baud", modemconfig.DefaultBaud, "serial baud rate")
	rootCmd.PersistentFlags().StringVar(&framing, "framing", modemconfig.DefaultFraming, "serial framing, e.g. 8N1")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires every component together and drives the event loop until a
// signal arrives or the serial port fails.
func run(tcpPortArg, serialPortPath string) error {
	if _, err := strconv.Atoi(tcpPortArg); err != nil {
		return fmt.Errorf("invalid tcp_port %q: %w", tcpPortArg, err)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: logFormat, Output: "stdout"})
	logger.SetGlobal(log)

	serialCfg, err := modemconfig.BuildSerialConfig(serialPortPath, baud, framing)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	monitorCfg, err := modemconfig.LoadMonitorConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	port := serialport.New(serialCfg, log)
	if err := port.Open(); err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	defer port.Close()

	servers := registry.NewServerRegistry()
	clients := registry.NewClientRegistry()
	bus := events.New()

	br := &bridge.Bridge{Serial: port, Events: bus, Log: log, Baud: baud}
	httpBridge := &bridge.HttpBridge{Serial: port}

	d := dispatcher.New()
	d.Serial = port
	d.Servers = servers
	d.Clients = clients
	d.Bridge = br
	d.Http = httpBridge
	d.Log = log
	d.Events = bus

	mon := monitor.New(monitorCfg, d, clients, servers, bus, log)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("starting monitor server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	loop := &eventloop.EventLoop{
		Serial:     port,
		Dispatcher: d,
		Servers:    servers,
		Clients:    clients,
		Bridge:     br,
		Log:        log,
		Events:     bus,
	}

	log.Info("modemsim running", "serial_port", serialPortPath, "baud", baud, "framing", framing)
	runErr := loop.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	mon.Stop(shutdownCtx)
	clients.CloseAll()
	servers.CloseAll()

	return runErr
}
