// Package session owns the BLE connection lifecycle for the water-quality
// sensor: discovery, connect with bounded retries, notification monitoring
// through the reassembly pipeline, and recovery from disconnects. The Manager
// is the single source of truth for connection state and the only writer of
// it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/avelasco/hydrolink/internal/bus"
	"github.com/avelasco/hydrolink/internal/config"
	"github.com/avelasco/hydrolink/internal/frame"
	"github.com/avelasco/hydrolink/internal/reading"
	"github.com/avelasco/hydrolink/internal/transport"
)

// Manager supervises the transport and the reassembler. All lifecycle
// operations are serialized: a second call of the same kind while one is in
// flight is rejected (connect, read) or a no-op (stop).
type Manager struct {
	cfg        *config.Config
	tr         transport.Transport
	logger     *logrus.Logger
	events     *bus.Bus[Event]
	normalizer *reading.Normalizer

	// mu guards state, device, onReading, idleTimer and the debounce
	// timestamps. Never acquire feedMu while holding mu.
	mu        sync.Mutex
	state     State
	device    *transport.DeviceHandle
	onReading func(*reading.SensorReading)
	idleTimer *time.Timer

	lastConnectedAt    time.Time
	lastDisconnectedAt time.Time

	// feedMu serializes chunk folding and message dispatch so a chunk is
	// fully processed before the next one starts.
	feedMu sync.Mutex
	reasm  *frame.Reassembler

	connectBusy atomic.Bool
	readBusy    atomic.Bool
	stopBusy    atomic.Bool
}

// NewManager creates a session Manager over the given transport. The
// transport's disconnect callback is claimed by the Manager; collaborators
// observe connection loss through the event bus instead.
func NewManager(cfg *config.Config, tr transport.Transport, logger *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		cfg:        cfg,
		tr:         tr,
		logger:     logger,
		events:     bus.New[Event](logger),
		normalizer: reading.NewNormalizer(logger, cfg.Sensor.DeviceID),
		state:      StateDisconnected,
		reasm:      frame.NewReassemblerWithLimits(logger, cfg.Reassembly.SoftThreshold, cfg.Reassembly.HardCap),
	}
	tr.OnDisconnect(m.handleTransportDisconnect)
	return m
}

// Events returns the bus lifecycle and data events are published on.
func (m *Manager) Events() *bus.Bus[Event] {
	return m.events
}

// Subscribe registers an event handler on the session bus.
func (m *Manager) Subscribe(handler func(Event)) bus.Token {
	return m.events.Subscribe(handler)
}

// Unsubscribe cancels an event subscription.
func (m *Manager) Unsubscribe(token bus.Token) {
	m.events.Unsubscribe(token)
}

// Status returns a read-only snapshot of the session. Never blocks on
// transport operations.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state}
	if m.device != nil {
		d := *m.device
		st.Device = &d
	}
	return st
}

// Scan discovers sensor devices, invoking onFound once per newly seen device
// id. Devices pass the filter when their name contains a sensor token, equals
// the known device name, or their advertisement carries the sensor service
// UUID. The scan stops when the configured window elapses or ctx is
// cancelled, whichever comes first.
func (m *Manager) Scan(ctx context.Context, onFound func(transport.DeviceHandle)) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return newError(CodeBusy, fmt.Errorf("cannot scan while %s", state))
	}
	m.state = StateScanning
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.state == StateScanning {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
	}()

	scanCtx, cancel := context.WithTimeout(ctx, m.cfg.Session.ScanWindow)
	defer cancel()

	seen := hashmap.New[string, struct{}]()
	serviceUUID := transport.NormalizeUUID(m.cfg.Sensor.ServiceUUID)

	err := m.tr.Scan(scanCtx, func(adv transport.Advertisement) {
		if !m.matchesSensor(adv, serviceUUID) {
			return
		}
		if _, loaded := seen.GetOrInsert(adv.ID, struct{}{}); loaded {
			return
		}
		m.logger.WithFields(logrus.Fields{
			"device":  adv.Name,
			"address": adv.ID,
			"rssi":    adv.RSSI,
		}).Info("Discovered sensor device")
		if onFound != nil {
			onFound(adv.DeviceHandle)
		}
	})
	if err != nil {
		return classifyTransportError(err, CodeTransportUnavailable)
	}
	return nil
}

func (m *Manager) matchesSensor(adv transport.Advertisement, serviceUUID string) bool {
	name := strings.ToLower(adv.Name)
	if name != "" {
		if strings.EqualFold(adv.Name, m.cfg.Sensor.DeviceID) {
			return true
		}
		for _, token := range m.cfg.Sensor.NameTokens {
			if strings.Contains(name, strings.ToLower(token)) {
				return true
			}
		}
	}
	for _, u := range adv.ServiceUUIDs {
		if u == serviceUUID {
			return true
		}
	}
	return false
}

// Connect establishes a connection to the device, retrying up to the
// configured attempt count with a fixed backoff. An existing connection is
// torn down first. Service discovery failures are not retried; the expected
// service either exists or it does not.
func (m *Manager) Connect(ctx context.Context, device transport.DeviceHandle) error {
	if !m.connectBusy.CompareAndSwap(false, true) {
		return newError(CodeBusy, errors.New("connect already in progress"))
	}
	defer m.connectBusy.Store(false)

	m.mu.Lock()
	alreadyUp := m.state == StateConnected || m.state == StateMonitoring
	m.mu.Unlock()
	if alreadyUp {
		m.logger.WithField("device", device.ID).Info("Replacing existing connection")
		m.Disconnect()
		// A deliberate replace is not a duplicate platform callback; clear
		// the debounce stamps so the new connection's events fire.
		m.mu.Lock()
		m.lastConnectedAt = time.Time{}
		m.lastDisconnectedAt = time.Time{}
		m.mu.Unlock()
	}

	m.setState(StateConnecting)

	var lastErr error
	attempts := m.cfg.Session.ConnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Session.ConnectTimeout)
		err := m.tr.Connect(attemptCtx, device.ID)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		m.logger.WithFields(logrus.Fields{
			"device":  device.ID,
			"attempt": attempt,
			"error":   err,
		}).Warn("Connect attempt failed")

		if errors.Is(err, transport.ErrServiceNotFound) ||
			errors.Is(err, transport.ErrCharacteristicNotFound) ||
			errors.Is(err, transport.ErrPermissionDenied) ||
			errors.Is(err, transport.ErrUnavailable) {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts // stop retrying
			case <-time.After(m.cfg.Session.ConnectBackoff):
			}
		}
	}

	if lastErr != nil {
		m.setState(StateDisconnected)
		var serr *Error
		if errors.Is(lastErr, context.DeadlineExceeded) {
			serr = newError(CodeConnectTimeout, lastErr)
		} else {
			serr = classifyTransportError(lastErr, CodeConnectFailed)
		}
		m.events.Publish(ConnectionFailed{Reason: serr})
		return serr
	}

	m.mu.Lock()
	m.state = StateConnected
	d := device
	m.device = &d
	m.mu.Unlock()

	m.emitConnected(device)
	return nil
}

// RequestSingleReading performs one characteristic read and normalizes the
// payload. When the transport reports the characteristic became unresolvable,
// discovery is re-run once and the read retried.
func (m *Manager) RequestSingleReading(ctx context.Context) (*reading.SensorReading, error) {
	if !m.readBusy.CompareAndSwap(false, true) {
		return nil, newError(CodeBusy, errors.New("read already in progress"))
	}
	defer m.readBusy.Store(false)

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != StateConnected && state != StateMonitoring {
		return nil, newError(CodeNotConnected, fmt.Errorf("cannot read while %s", state))
	}

	text, err := m.tr.Read(ctx)
	if err != nil && isUnresolvable(err) {
		m.logger.WithField("error", err).Info("Characteristic unresolvable, re-running discovery")
		if derr := m.tr.Rediscover(ctx); derr != nil {
			return nil, classifyTransportError(derr, CodeReadFailed)
		}
		text, err = m.tr.Read(ctx)
	}
	if err != nil {
		return nil, classifyTransportError(err, CodeReadFailed)
	}

	rd, nerr := m.normalizer.Normalize(text, false)
	if nerr != nil {
		return nil, newError(CodeMalformedMessage, nerr)
	}
	return rd, nil
}

// isUnresolvable reports whether a read error indicates the characteristic or
// service handle went stale and discovery should be re-run.
func isUnresolvable(err error) bool {
	if errors.Is(err, transport.ErrServiceNotFound) ||
		errors.Is(err, transport.ErrCharacteristicNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "unresolv") ||
		strings.Contains(msg, "invalid handle")
}

// StartMonitoring subscribes to sensor notifications, routing every decoded
// chunk through the reassembler and normalizer before invoking onReading and
// publishing DataReceived.
func (m *Manager) StartMonitoring(onReading func(*reading.SensorReading)) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	switch state {
	case StateConnected:
	case StateMonitoring:
		return newError(CodeSubscribeFailed, errors.New("already monitoring"))
	default:
		return newError(CodeNotConnected, fmt.Errorf("cannot monitor while %s", state))
	}

	m.feedMu.Lock()
	m.reasm.Reset()
	m.feedMu.Unlock()

	if err := m.tr.Subscribe(m.handleChunk); err != nil {
		return classifyTransportError(err, CodeSubscribeFailed)
	}

	m.mu.Lock()
	m.state = StateMonitoring
	m.onReading = onReading
	m.scheduleIdleFlushLocked()
	m.mu.Unlock()

	m.logger.Info("Monitoring started")
	return nil
}

// StopMonitoring unsubscribes from notifications and clears the reassembly
// buffer. Idempotent: a second call while a stop is in progress is a no-op.
// The unsubscribe wait is bounded by the configured grace period, after which
// cleanup proceeds regardless of transport acknowledgment.
func (m *Manager) StopMonitoring() {
	if !m.stopBusy.CompareAndSwap(false, true) {
		return
	}
	defer m.stopBusy.Store(false)

	m.mu.Lock()
	if m.state != StateMonitoring {
		m.mu.Unlock()
		return
	}
	m.stopIdleFlushLocked()
	m.onReading = nil
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.tr.Unsubscribe() }()
	select {
	case err := <-done:
		if err != nil {
			m.logger.WithField("error", err).Warn("Unsubscribe failed, cleaning up anyway")
		}
	case <-time.After(m.cfg.Session.StopGracePeriod):
		m.logger.WithField("grace", m.cfg.Session.StopGracePeriod).
			Warn("Unsubscribe did not complete in time, forcing cleanup")
	}

	m.feedMu.Lock()
	m.reasm.Reset()
	m.feedMu.Unlock()

	m.mu.Lock()
	if m.state == StateMonitoring {
		m.state = StateConnected
	}
	m.mu.Unlock()
	m.logger.Info("Monitoring stopped")
}

// Disconnect cancels any active monitoring and releases the transport
// connection. Best-effort: local state always reaches Disconnected even when
// the transport call errors.
func (m *Manager) Disconnect() {
	m.StopMonitoring()

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnecting
	m.mu.Unlock()

	if err := m.tr.Disconnect(); err != nil {
		m.logger.WithField("error", err).Warn("Transport disconnect failed, releasing local state anyway")
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.device = nil
	m.mu.Unlock()

	m.emitDisconnected("disconnect requested")
}

// handleChunk folds one notification chunk into the reassembler and
// dispatches every completed message before returning. feedMu guarantees
// chunks are processed strictly in arrival order.
func (m *Manager) handleChunk(chunk string) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	for _, msg := range m.reasm.Feed(chunk) {
		m.dispatchMessage(msg)
	}

	m.mu.Lock()
	m.scheduleIdleFlushLocked()
	m.mu.Unlock()
}

// flushStale salvages a buffer that stopped growing mid-message. Runs from
// the idle timer when no notification arrived for the configured window.
func (m *Manager) flushStale() {
	m.mu.Lock()
	monitoring := m.state == StateMonitoring
	m.mu.Unlock()
	if !monitoring {
		return
	}

	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	if msg, ok := m.reasm.Flush(); ok {
		m.dispatchMessage(msg)
	}
}

// dispatchMessage normalizes one reassembled message and publishes it. A
// malformed candidate produces a DataError event and is dropped; the
// monitoring session is unaffected. Called with feedMu held.
func (m *Manager) dispatchMessage(msg frame.Message) {
	rd, err := m.normalizer.Normalize(msg.Raw, msg.Recovered)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"raw":   msg.Raw,
			"error": err,
		}).Warn("Dropping malformed sensor message")
		m.events.Publish(DataError{Raw: msg.Raw, Err: newError(CodeMalformedMessage, err)})
		return
	}

	m.mu.Lock()
	cb := m.onReading
	m.mu.Unlock()

	m.events.Publish(DataReceived{Reading: rd})
	if cb != nil {
		cb(rd)
	}
}

// handleTransportDisconnect reacts to connection loss reported by the
// transport. Monitoring tears down and buffered partial data is dropped, not
// flushed. Duplicate platform callbacks collapse into one Disconnected event
// via the debounce window.
func (m *Manager) handleTransportDisconnect(cause error) {
	m.mu.Lock()
	if m.state == StateDisconnecting || m.state == StateDisconnected {
		m.mu.Unlock()
		m.emitDisconnected(causeString(cause))
		return
	}
	wasMonitoring := m.state == StateMonitoring
	m.state = StateDisconnected
	m.device = nil
	m.onReading = nil
	m.stopIdleFlushLocked()
	m.mu.Unlock()

	if wasMonitoring {
		m.feedMu.Lock()
		m.reasm.Reset()
		m.feedMu.Unlock()
	}

	m.logger.WithField("cause", causeString(cause)).Warn("Connection lost")
	m.emitDisconnected(causeString(cause))
}

func causeString(cause error) string {
	if cause == nil {
		return "unknown"
	}
	return cause.Error()
}

// emitConnected publishes a Connected event unless one was emitted within the
// connect debounce window, or a Disconnected event within the disconnect
// window (absorbs duplicate platform callbacks and quick flaps).
func (m *Manager) emitConnected(device transport.DeviceHandle) {
	m.mu.Lock()
	now := time.Now()
	if !m.lastConnectedAt.IsZero() && now.Sub(m.lastConnectedAt) < m.cfg.Session.ConnectDebounce {
		m.mu.Unlock()
		m.logger.Debug("Suppressing duplicate Connected event")
		return
	}
	if !m.lastDisconnectedAt.IsZero() && now.Sub(m.lastDisconnectedAt) < m.cfg.Session.DisconnectDebounce {
		m.mu.Unlock()
		m.logger.Debug("Suppressing Connected event inside disconnect debounce window")
		return
	}
	m.lastConnectedAt = now
	m.mu.Unlock()

	m.events.Publish(Connected{Device: device})
}

// emitDisconnected publishes a Disconnected event unless one was emitted
// within the disconnect debounce window.
func (m *Manager) emitDisconnected(cause string) {
	m.mu.Lock()
	now := time.Now()
	if !m.lastDisconnectedAt.IsZero() && now.Sub(m.lastDisconnectedAt) < m.cfg.Session.DisconnectDebounce {
		m.mu.Unlock()
		m.logger.Debug("Suppressing duplicate Disconnected event")
		return
	}
	m.lastDisconnectedAt = now
	m.mu.Unlock()

	m.events.Publish(Disconnected{Cause: cause})
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// scheduleIdleFlushLocked (re)arms the stale-buffer watchdog. Caller holds mu.
func (m *Manager) scheduleIdleFlushLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	if m.state != StateMonitoring && m.state != StateConnected {
		return
	}
	m.idleTimer = time.AfterFunc(m.cfg.Session.RecoveryIdle, m.flushStale)
}

func (m *Manager) stopIdleFlushLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}
