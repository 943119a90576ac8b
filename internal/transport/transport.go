// Package transport wraps a BLE central stack behind a narrow interface the
// session layer drives. Implementations deliver notification payloads as
// decoded text chunks and surface disconnects through a registered handler.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

// Sentinel errors implementations return so the session layer can classify
// failures without string matching.
var (
	ErrPermissionDenied       = errors.New("bluetooth permission denied")
	ErrUnavailable            = errors.New("bluetooth stack unavailable")
	ErrNotConnected           = errors.New("transport not connected")
	ErrServiceNotFound        = errors.New("sensor service not found")
	ErrCharacteristicNotFound = errors.New("sensor characteristic not found")
)

// DeviceHandle identifies a discovered or connected peripheral. The name may
// be absent at discovery time and filled in once connected.
type DeviceHandle struct {
	ID   string
	Name string
	RSSI int
}

// Advertisement is one discovery result as seen during a scan.
type Advertisement struct {
	DeviceHandle
	ServiceUUIDs []string
}

// NotificationHandler receives one decoded notification chunk.
type NotificationHandler func(chunk string)

// DisconnectHandler receives the cause of a connection loss. Implementations
// may invoke it more than once for a single loss (platform stacks do); the
// session layer debounces.
type DisconnectHandler func(cause error)

// Transport is the contract between the session layer and a BLE stack.
// Implementations are not required to be safe for concurrent calls of the same
// method; the session layer serializes its operations.
type Transport interface {
	// Scan runs discovery until ctx is done, invoking handler for each
	// advertisement. Duplicate advertisements may be delivered.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Connect dials the peripheral and resolves the sensor service and
	// characteristic. Returns ErrServiceNotFound or
	// ErrCharacteristicNotFound when discovery completes without them.
	Connect(ctx context.Context, deviceID string) error

	// Rediscover re-runs service discovery on the live connection.
	Rediscover(ctx context.Context) error

	// Read performs a single characteristic read and returns the decoded
	// payload text.
	Read(ctx context.Context) (string, error)

	// Subscribe enables notifications on the sensor characteristic, routing
	// each decoded chunk to handler in arrival order.
	Subscribe(handler NotificationHandler) error

	// Unsubscribe disables notifications. May block on transport
	// acknowledgment; the session layer bounds the wait.
	Unsubscribe() error

	// OnDisconnect registers the handler invoked when the connection drops.
	OnDisconnect(handler DisconnectHandler)

	// Disconnect releases the connection. Safe to call when not connected.
	Disconnect() error

	// Connected reports whether a peripheral connection is live.
	Connected() bool
}

// DecodeChunk converts a raw notification payload to text. Central stacks on
// mobile platforms deliver characteristic values base64-encoded while the
// firmware writes plain JSON, so base64 is tried first and the raw bytes are
// kept when decoding does not yield text. The decoding must also carry a JSON
// payload marker: a raw fragment that happens to be valid base64 would
// otherwise be silently corrupted mid-message.
func DecodeChunk(data []byte) string {
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err == nil && utf8.Valid(decoded) && looksTextual(decoded) && hasPayloadMarker(decoded) {
		return string(decoded)
	}
	return string(data)
}

// hasPayloadMarker reports whether data contains any character a JSON sensor
// payload fragment would carry.
func hasPayloadMarker(data []byte) bool {
	for _, b := range data {
		switch {
		case b == '{' || b == '}' || b == '"' || b == ':' || b == ',' || b == '.':
			return true
		case b >= '0' && b <= '9':
			return true
		}
	}
	return false
}

// looksTextual filters out base64 decodings that happen to succeed on payloads
// that were never encoded (short JSON fragments often decode to garbage).
func looksTextual(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	for _, b := range data {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			printable++
		}
	}
	return printable*10 >= len(data)*9
}

// NormalizeUUID converts a UUID string to the lowercase, dash-free form the
// BLE library uses internally.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
