package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// BLETransport implements Transport on top of go-ble.
type BLETransport struct {
	serviceUUID string // normalized
	charUUID    string // normalized
	logger      *logrus.Logger

	mu           sync.RWMutex
	device       ble.Device
	client       ble.Client
	char         *ble.Characteristic
	subscribed   bool
	onDisconnect DisconnectHandler
}

// NewBLETransport creates a transport bound to the given sensor service and
// characteristic UUIDs.
func NewBLETransport(serviceUUID, charUUID string, logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{
		serviceUUID: NormalizeUUID(serviceUUID),
		charUUID:    NormalizeUUID(charUUID),
		logger:      logger,
	}
}

// newDevice creates the platform BLE device and maps stack-state failures to
// the transport sentinels.
func newDevice() (ble.Device, error) {
	dev, err := DeviceFactory()
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "not authorized"), strings.Contains(msg, "permission"):
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case strings.Contains(msg, "powered off"), strings.Contains(msg, "have=4"),
			strings.Contains(msg, "invalid state"), strings.Contains(msg, "no such device"):
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return nil, err
		}
	}
	return dev, nil
}

// ensureDeviceLocked returns the platform device, creating it on first use.
// Caller holds mu. One device serves the whole transport lifetime; creating a
// fresh one per operation leaks HCI handles on Linux.
func (t *BLETransport) ensureDeviceLocked() (ble.Device, error) {
	if t.device != nil {
		return t.device, nil
	}
	dev, err := newDevice()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	t.device = dev
	return dev, nil
}

func (t *BLETransport) Scan(ctx context.Context, handler func(Advertisement)) error {
	t.mu.Lock()
	dev, err := t.ensureDeviceLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.logger.Info("Starting BLE scan")
	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		services := make([]string, 0, len(adv.Services()))
		for _, u := range adv.Services() {
			services = append(services, NormalizeUUID(u.String()))
		}
		handler(Advertisement{
			DeviceHandle: DeviceHandle{
				ID:   adv.Addr().String(),
				Name: adv.LocalName(),
				RSSI: adv.RSSI(),
			},
			ServiceUUIDs: services,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (t *BLETransport) Connect(ctx context.Context, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("device address is not set")
	}
	if t.client != nil {
		return fmt.Errorf("already connected")
	}

	if _, err := t.ensureDeviceLocked(); err != nil {
		return err
	}

	t.logger.WithField("address", deviceID).Info("Connecting to sensor")
	client, err := ble.Dial(ctx, ble.NewAddr(deviceID))
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", deviceID, err)
	}

	char, err := t.resolveCharacteristic(client)
	if err != nil {
		_ = client.CancelConnection()
		return err
	}

	t.client = client
	t.char = char

	// Surface connection loss to the registered handler. The channel fires
	// once; platform stacks that deliver duplicate callbacks are simulated
	// elsewhere and debounced by the session layer either way.
	go func() {
		<-client.Disconnected()
		t.mu.Lock()
		handler := t.onDisconnect
		wasConnected := t.client == client
		if wasConnected {
			t.client = nil
			t.char = nil
			t.subscribed = false
		}
		t.mu.Unlock()
		if wasConnected && handler != nil {
			handler(errors.New("connection lost"))
		}
	}()

	t.logger.WithField("address", deviceID).Info("Sensor connected")
	return nil
}

// resolveCharacteristic discovers the GATT profile and locates the sensor
// service and characteristic.
func (t *BLETransport) resolveCharacteristic(client ble.Client) (*ble.Characteristic, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	for _, svc := range profile.Services {
		if NormalizeUUID(svc.UUID.String()) != t.serviceUUID {
			continue
		}
		for _, char := range svc.Characteristics {
			if NormalizeUUID(char.UUID.String()) == t.charUUID {
				return char, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, t.charUUID)
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, t.serviceUUID)
}

func (t *BLETransport) Rediscover(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return ErrNotConnected
	}
	char, err := t.resolveCharacteristic(t.client)
	if err != nil {
		return err
	}
	t.char = char
	return nil
}

func (t *BLETransport) Read(ctx context.Context) (string, error) {
	t.mu.RLock()
	client, char := t.client, t.char
	t.mu.RUnlock()

	if client == nil || char == nil {
		return "", ErrNotConnected
	}
	data, err := client.ReadCharacteristic(char)
	if err != nil {
		return "", fmt.Errorf("failed to read characteristic: %w", err)
	}
	return DecodeChunk(data), nil
}

func (t *BLETransport) Subscribe(handler NotificationHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil || t.char == nil {
		return ErrNotConnected
	}
	if t.char.Property&ble.CharNotify == 0 && t.char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", t.charUUID)
	}

	err := t.client.Subscribe(t.char, false, func(data []byte) {
		handler(DecodeChunk(data))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	t.subscribed = true
	t.logger.WithField("characteristic", t.charUUID).Info("Subscribed to sensor notifications")
	return nil
}

func (t *BLETransport) Unsubscribe() error {
	t.mu.Lock()
	client, char, subscribed := t.client, t.char, t.subscribed
	t.subscribed = false
	t.mu.Unlock()

	if client == nil || char == nil || !subscribed {
		return nil
	}

	// Try both notification and indication modes; only report failure when
	// neither succeeds (platform stacks differ on which one is active).
	err1 := client.Unsubscribe(char, false)
	err2 := client.Unsubscribe(char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("failed to unsubscribe: notify=%v, indicate=%v", err1, err2)
	}
	return nil
}

func (t *BLETransport) OnDisconnect(handler DisconnectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.char = nil
	t.subscribed = false
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to cancel connection: %w", err)
	}
	return nil
}

func (t *BLETransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}
