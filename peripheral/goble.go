package peripheral

import (
	"context"
	"errors"
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates the HCI device backing GobleStack. Overridable
// for tests and alternative transports.
var DeviceFactory = func() (blelib.Device, error) {
	return linux.NewDevice()
}

// GobleStack implements Stack over a go-ble Linux HCI device.
type GobleStack struct {
	device blelib.Device
	logger *logrus.Logger
}

// NewGobleStack opens the host's HCI device.
func NewGobleStack(logger *logrus.Logger) (*GobleStack, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}

	return &GobleStack{device: dev, logger: logger}, nil
}

// Register builds the go-ble service tree and installs it in the GATT
// database. Notify characteristics block inside the handler for the
// lifetime of each subscription, which is how go-ble models them.
func (g *GobleStack) Register(spec ServiceSpec, attach AttachFunc) error {
	svc := blelib.NewService(blelib.MustParse(spec.UUID))

	for _, cs := range spec.Characteristics {
		// NewCharacteristic attaches the characteristic to the service.
		char := svc.NewCharacteristic(blelib.MustParse(cs.UUID))

		if len(cs.Value) > 0 {
			value := cs.Value
			char.HandleRead(blelib.ReadHandlerFunc(func(req blelib.Request, rsp blelib.ResponseWriter) {
				if _, err := rsp.Write(value); err != nil {
					g.logger.WithError(err).Warn("Failed to serve characteristic read")
				}
			}))
		}

		if cs.Notify {
			char.HandleNotify(blelib.NotifyHandlerFunc(func(req blelib.Request, n blelib.Notifier) {
				central := req.Conn().RemoteAddr().String()

				release := attach(central, func(payload []byte) error {
					_, err := n.Write(payload)
					return err
				})

				// The handler must not return while the subscription
				// is live; go-ble tears it down when we do.
				<-n.Context().Done()
				release()
			}))
		}
	}

	if err := g.device.AddService(svc); err != nil {
		return fmt.Errorf("failed to add service %s: %w", spec.UUID, err)
	}

	return nil
}

// Advertise broadcasts connectable advertisements until ctx is
// canceled. Cancellation is a clean stop, not an error.
func (g *GobleStack) Advertise(ctx context.Context, name string, serviceUUIDs ...string) error {
	uuids := make([]blelib.UUID, 0, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		uuids = append(uuids, blelib.MustParse(u))
	}

	err := g.device.AdvertiseNameAndServices(ctx, name, uuids...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("advertising failed: %w", err)
	}
	return nil
}

// Close stops the HCI device.
func (g *GobleStack) Close() error {
	return g.device.Stop()
}
