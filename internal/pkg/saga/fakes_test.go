package saga

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	found    bool
	failAt   map[string]error
	block    map[string]bool
	onCall   map[string]func()
	restored *SlotParams
	parkedTo string
	closed   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{found: true, failAt: map[string]error{}, block: map[string]bool{}, onCall: map[string]func(){}}
}

func (d *fakeDriver) record(ctx context.Context, name string) error {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	err := d.failAt[name]
	block := d.block[name]
	hook := d.onCall[name]
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *fakeDriver) InitSession(ctx context.Context, clinicID string) error {
	return d.record(ctx, "init")
}

func (d *fakeDriver) LocateAppointment(ctx context.Context, p LocateParams) (bool, error) {
	if err := d.record(ctx, "locate"); err != nil {
		return false, err
	}
	return d.found, nil
}

func (d *fakeDriver) MoveToParking(ctx context.Context, resourceKey string) error {
	d.mu.Lock()
	d.parkedTo = resourceKey
	d.mu.Unlock()
	return d.record(ctx, "park")
}

func (d *fakeDriver) CancelParked(ctx context.Context) error {
	return d.record(ctx, "cancel_parked")
}

func (d *fakeDriver) RestoreFromParking(ctx context.Context, slot SlotParams) error {
	d.mu.Lock()
	d.restored = &slot
	d.mu.Unlock()
	return d.record(ctx, "restore")
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) factory() LegacyDriverFactory {
	return LegacyDriverFactoryFunc(func(context.Context) (LegacyDriver, error) {
		return d, nil
	})
}

type fakeTarget struct {
	mu         sync.Mutex
	created    []CreateParams
	cancelled  []string
	createErr  error
	cancelErr  error
	createWait time.Duration
	id         string
}

func (f *fakeTarget) CreateAppointment(ctx context.Context, p CreateParams) (*Appointment, error) {
	f.mu.Lock()
	f.created = append(f.created, p)
	wait, err, id := f.createWait, f.createErr, f.id
	f.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = "csp-1"
	}
	return &Appointment{ID: id, Status: AppointmentStatusBooked, StartISO: p.StartISO, EndISO: p.EndISO}, nil
}

func (f *fakeTarget) CancelAppointment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

// verifyingTarget adds read-back support
type verifyingTarget struct {
	*fakeTarget
	get func(id string) (*Appointment, error)
}

func (v *verifyingTarget) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return v.get(id)
}

var errBoom = errors.New("boom")
