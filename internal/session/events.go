package session

import (
	"github.com/avelasco/hydrolink/internal/reading"
	"github.com/avelasco/hydrolink/internal/transport"
)

// State is the connection lifecycle state owned by the Manager. Transitions
// are serialized; no concurrent transition attempts are honored.
type State string

const (
	StateDisconnected  State = "Disconnected"
	StateScanning      State = "Scanning"
	StateConnecting    State = "Connecting"
	StateConnected     State = "Connected"
	StateMonitoring    State = "Monitoring"
	StateDisconnecting State = "Disconnecting"
)

// Event is a closed tagged variant dispatched over the event bus. Every
// event's fields are statically known so subscribers can switch exhaustively.
type Event interface {
	isEvent()
}

// Connected is published once per established connection, debounced against
// duplicate platform callbacks.
type Connected struct {
	Device transport.DeviceHandle
}

// Disconnected is published when the connection is lost or released,
// debounced against duplicate platform callbacks.
type Disconnected struct {
	Cause string
}

// ConnectionFailed is published when a connect operation exhausts its
// attempts.
type ConnectionFailed struct {
	Reason error
}

// DataReceived carries one normalized sensor reading.
type DataReceived struct {
	Reading *reading.SensorReading
}

// DataError reports a message candidate that failed normalization. The
// monitoring session survives; only the offending message is dropped.
type DataError struct {
	Raw string
	Err error
}

func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (ConnectionFailed) isEvent() {}
func (DataReceived) isEvent()     {}
func (DataError) isEvent()        {}

// Status is a read-only snapshot of the session.
type Status struct {
	State  State
	Device *transport.DeviceHandle
}
