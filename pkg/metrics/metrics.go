// Package metrics exposes Prometheus counters and gauges for the modem
// simulator's command dispatch and serial<->TCP bridging activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts AT commands processed by the dispatcher.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modemsim_commands_total",
		Help: "Total number of AT commands processed, by command and result",
	}, []string{"command", "result"})

	// BytesForwarded counts bytes shuttled by the bridge, by direction.
	BytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modemsim_bridge_bytes_total",
		Help: "Total bytes forwarded across the serial/TCP bridge",
	}, []string{"direction"})

	// BridgeSessionsTotal counts bridge sessions by how they ended.
	BridgeSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modemsim_bridge_sessions_total",
		Help: "Total bridge sessions, by exit reason",
	}, []string{"reason"})

	// ActiveClients is the current number of accepted TCP clients.
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modemsim_active_clients",
		Help: "Current number of accepted TCP clients",
	})

	// ActiveServers is the current number of listening TCP ports.
	ActiveServers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modemsim_active_servers",
		Help: "Current number of listening TCP servers",
	})
)

// Result label values for CommandsTotal.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Direction label values for BytesForwarded.
const (
	DirectionSerialToGPRS = "serial_to_gprs"
	DirectionGPRSToSerial = "gprs_to_serial"
)

// Bridge session exit reasons for BridgeSessionsTotal.
const (
	ReasonStandby = "standby"
	ReasonClosed  = "closed"
)

// IncCommand increments the commands counter.
func IncCommand(command, result string) {
	CommandsTotal.WithLabelValues(command, result).Inc()
}

// AddBytes adds n bytes to the forwarded-bytes counter for direction.
func AddBytes(direction string, n int) {
	BytesForwarded.WithLabelValues(direction).Add(float64(n))
}

// IncBridgeSession increments the bridge-sessions counter for reason.
func IncBridgeSession(reason string) {
	BridgeSessionsTotal.WithLabelValues(reason).Inc()
}
