package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// DefaultSimMTU is the notification payload size the simulated peripheral
// fragments messages into. Twenty bytes matches the default ATT MTU minus
// protocol overhead, the worst case a real sensor link produces.
const DefaultSimMTU = 20

const simOutboundCapacity = 4096

// SimTransport is an in-memory Transport used by tests and the --simulate CLI
// mode. Outbound messages pass through a byte ring buffer and are delivered to
// the subscriber as MTU-sized chunks, reproducing the fragmentation of a real
// notification stream.
type SimTransport struct {
	logger *logrus.Logger

	mu           sync.Mutex
	connected    bool
	subscribed   bool
	handler      NotificationHandler
	onDisconnect DisconnectHandler
	outbound     *ringbuffer.RingBuffer
	mtu          int

	advertisements []Advertisement
	connectFail    int // remaining Connect calls to fail
	connectHang    int // remaining Connect calls to block until ctx expires
	readPayload    string
	readFailures   []error // errors returned by successive Read calls
	discoveryFail  bool

	connectCount     int
	unsubscribeCount int
	unsubscribeHang  bool
}

// NewSimTransport creates a simulated transport with the default MTU.
func NewSimTransport(logger *logrus.Logger) *SimTransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &SimTransport{
		logger:   logger,
		outbound: ringbuffer.New(simOutboundCapacity),
		mtu:      DefaultSimMTU,
	}
}

// SetMTU overrides the notification chunk size.
func (s *SimTransport) SetMTU(mtu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mtu > 0 {
		s.mtu = mtu
	}
}

// SetAdvertisements scripts the devices a Scan call reports.
func (s *SimTransport) SetAdvertisements(advs ...Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertisements = advs
}

// FailConnects makes the next n Connect calls fail.
func (s *SimTransport) FailConnects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectFail = n
}

// HangConnects makes the next n Connect calls block until their context
// expires, reproducing a peripheral that is powered on but out of range.
func (s *SimTransport) HangConnects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectHang = n
}

// FailDiscovery makes Connect succeed at the link layer but fail to resolve
// the sensor service.
func (s *SimTransport) FailDiscovery(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoveryFail = fail
}

// SetReadPayload scripts the payload a Read call returns.
func (s *SimTransport) SetReadPayload(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readPayload = payload
}

// QueueReadFailures scripts errors for successive Read calls, consumed in
// order before readPayload is served.
func (s *SimTransport) QueueReadFailures(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFailures = append(s.readFailures, errs...)
}

// HangUnsubscribe makes Unsubscribe block forever, for forced-cleanup tests.
func (s *SimTransport) HangUnsubscribe(hang bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeHang = hang
}

// ConnectCount reports how many Connect attempts were made.
func (s *SimTransport) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCount
}

// UnsubscribeCount reports how many Unsubscribe attempts were made.
func (s *SimTransport) UnsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeCount
}

func (s *SimTransport) Scan(ctx context.Context, handler func(Advertisement)) error {
	s.mu.Lock()
	advs := make([]Advertisement, len(s.advertisements))
	copy(advs, s.advertisements)
	s.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (s *SimTransport) Connect(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	s.connectCount++
	if s.connectHang > 0 {
		s.connectHang--
		s.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer s.mu.Unlock()

	if s.connectFail > 0 {
		s.connectFail--
		return fmt.Errorf("simulated connect failure for %q", deviceID)
	}
	if s.discoveryFail {
		return fmt.Errorf("%w: simulated", ErrServiceNotFound)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *SimTransport) Rediscover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.discoveryFail {
		return fmt.Errorf("%w: simulated", ErrServiceNotFound)
	}
	return nil
}

func (s *SimTransport) Read(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrNotConnected
	}
	if len(s.readFailures) > 0 {
		err := s.readFailures[0]
		s.readFailures = s.readFailures[1:]
		return "", err
	}
	return s.readPayload, nil
}

func (s *SimTransport) Subscribe(handler NotificationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.handler = handler
	s.subscribed = true
	s.outbound.Reset()
	return nil
}

func (s *SimTransport) Unsubscribe() error {
	s.mu.Lock()
	s.unsubscribeCount++
	hang := s.unsubscribeHang
	s.subscribed = false
	s.handler = nil
	s.mu.Unlock()

	if hang {
		select {} // simulated platform call that never resolves
	}
	return nil
}

func (s *SimTransport) OnDisconnect(handler DisconnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = handler
}

func (s *SimTransport) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.subscribed = false
	s.handler = nil
	return nil
}

func (s *SimTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// FireDisconnect simulates the platform reporting a connection loss. Calling
// it repeatedly reproduces the duplicate callbacks real stacks deliver.
func (s *SimTransport) FireDisconnect(cause error) {
	s.mu.Lock()
	handler := s.onDisconnect
	s.connected = false
	s.subscribed = false
	s.mu.Unlock()

	if handler != nil {
		if cause == nil {
			cause = errors.New("connection lost")
		}
		handler(cause)
	}
}

// EmitMessage queues a complete message and delivers it to the subscriber as
// MTU-sized notification chunks.
func (s *SimTransport) EmitMessage(payload string) {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	if _, err := s.outbound.Write([]byte(payload)); err != nil {
		s.logger.WithField("error", err).Warn("Simulated outbound buffer full, dropping message")
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.drainChunks()
}

// EmitChunk delivers one raw chunk directly, bypassing fragmentation. Used to
// script pathological streams (truncated frames, debris, concatenations).
func (s *SimTransport) EmitChunk(chunk string) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(chunk)
	}
}

// drainChunks slices the outbound byte stream into MTU-sized notifications
// and delivers them in order.
func (s *SimTransport) drainChunks() {
	for {
		s.mu.Lock()
		handler := s.handler
		mtu := s.mtu
		if handler == nil || s.outbound.IsEmpty() {
			s.mu.Unlock()
			return
		}
		chunk := make([]byte, mtu)
		n, err := s.outbound.Read(chunk)
		s.mu.Unlock()

		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			s.logger.WithField("error", err).Warn("Simulated outbound buffer read failed")
			return
		}
		if n == 0 {
			return
		}
		handler(string(chunk[:n]))
	}
}

// StartEmitting generates plausible sensor payloads at the firmware's ~1s
// cadence until ctx is done. Used by the CLI --simulate mode.
func (s *SimTransport) StartEmitting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EmitMessage(simulatedPayload(time.Since(start)))
			}
		}
	}()
}

// simulatedPayload mirrors the JSON the firmware emits, with a slow TDS drift
// so quality transitions are observable.
func simulatedPayload(elapsed time.Duration) string {
	tds := 250 + 120*math.Sin(elapsed.Seconds()/30) + rand.Float64()*20
	vibration := math.Abs(rand.NormFloat64() * 0.4)
	quality := "Clean"
	switch {
	case tds > 400:
		quality = "Extremely Unsafe"
	case tds > 300:
		quality = "Unsafe"
	}
	return fmt.Sprintf(
		`{"tds":%.1f,"quality":"%s","vibration":%.2f,"xAxis":%.2f,"yAxis":%.2f,"zAxis":%.2f,"timestamp":%d,"deviceId":"ESP32-WaterSensor","batteryLevel":%d}`,
		tds, quality, vibration,
		rand.Float64()*0.2, rand.Float64()*0.2, 9.8+rand.Float64()*0.1,
		elapsed.Milliseconds(), 100-int(elapsed.Hours())%100,
	)
}
