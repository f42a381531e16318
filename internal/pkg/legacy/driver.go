package legacy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/config"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/saga"
)

var (
	ErrNoSession   = errors.New("legacy session not initialised")
	ErrNotLocated  = errors.New("no appointment located")
	ErrNotParked   = errors.New("no appointment on the parking resource")
	ErrClosed      = errors.New("legacy session closed")
	ErrMissingAuth = errors.New("legacy credentials are not configured")
)

// Credentials select how the driver signs in to the legacy scheduler
type Credentials struct {
	Method         string // "cookie" or "password"
	CookieBlobPath string
	Username       string
	Password       string
}

// Options configure a driver
type Options struct {
	Clinic      config.ClinicConfig
	Credentials Credentials
	Headless    bool
}

// Driver is the placeholder legacy-system driver. It keeps the session state
// machine (init, locate, park, cancel or restore) and logs each grid action;
// locating always succeeds.
type Driver struct {
	opts Options

	mu       sync.Mutex
	clinicID string
	located  *saga.LocateParams
	parked   bool
	closed   bool
}

// NewDriver opens a driver for one saga run
func NewDriver(opts Options) *Driver {
	return &Driver{opts: opts}
}

// NewFactory returns a factory handing out one fresh driver per saga run
func NewFactory(opts Options) saga.LegacyDriverFactory {
	return saga.LegacyDriverFactoryFunc(func(ctx context.Context) (saga.LegacyDriver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewDriver(opts), nil
	})
}

func (d *Driver) InitSession(ctx context.Context, clinicID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	creds := d.opts.Credentials
	if creds.Method == "password" && (creds.Username == "" || creds.Password == "") {
		return ErrMissingAuth
	}
	d.clinicID = clinicID
	log.Debugf("[Legacy] Session opened for clinic %s (auth=%s, headless=%t)", clinicID, creds.Method, d.opts.Headless)
	return ctx.Err()
}

func (d *Driver) LocateAppointment(ctx context.Context, p saga.LocateParams) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return false, err
	}
	log.Debugf("[Legacy] Locating %s %s..%s via %s", p.PractitionerKey, p.StartISO, p.EndISO, d.opts.Clinic.Selectors.AppointmentCell)
	located := p
	d.located = &located
	return true, ctx.Err()
}

func (d *Driver) MoveToParking(ctx context.Context, resourceKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if d.located == nil {
		return ErrNotLocated
	}
	if resourceKey == "" {
		resourceKey = d.opts.Clinic.Parking.DummyResourceKey
	}
	d.parked = true
	log.Infof("[Legacy] Moved appointment of %s at %s to parking resource %s", d.located.PractitionerKey, d.located.StartISO, resourceKey)
	return ctx.Err()
}

func (d *Driver) CancelParked(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if !d.parked {
		return ErrNotParked
	}
	d.parked = false
	log.Infof("[Legacy] Cancelled parked appointment of %s at %s", d.located.PractitionerKey, d.located.StartISO)
	return ctx.Err()
}

func (d *Driver) RestoreFromParking(ctx context.Context, slot saga.SlotParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ready(); err != nil {
		return err
	}
	if !d.parked {
		return ErrNotParked
	}
	d.parked = false
	log.Infof("[Legacy] Restored parked appointment to %s at %s..%s", slot.PractitionerKey, slot.StartISO, slot.EndISO)
	return ctx.Err()
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("close: %w", ErrClosed)
	}
	d.closed = true
	if d.parked {
		log.Warnf("[Legacy] Session for clinic %s closed with an appointment still parked", d.clinicID)
	}
	return nil
}

// ready checks the session; caller holds mu
func (d *Driver) ready() error {
	if d.closed {
		return ErrClosed
	}
	if d.clinicID == "" {
		return ErrNoSession
	}
	return nil
}
