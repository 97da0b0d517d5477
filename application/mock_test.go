package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pagecap-go/domain/capture"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

// stubFactory hands out stubDrivers and tracks how many run at once.
type stubFactory struct {
	mu sync.Mutex

	created int
	active  int
	peak    int

	// navErrs fails Navigate for the given URLs
	navErrs map[string]error
	// block makes Navigate wait for ctx cancellation
	block      bool
	navigating chan struct{}
	shotDelay  time.Duration
	newErr     error
}

func newStubFactory() *stubFactory {
	return &stubFactory{
		navErrs:    make(map[string]error),
		navigating: make(chan struct{}, 16),
	}
}

func (f *stubFactory) NewDriver() (browser.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.created++
	return &stubDriver{factory: f}, nil
}

func (f *stubFactory) counts() (created, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.peak
}

type stubDriver struct {
	factory *stubFactory

	mu      sync.Mutex
	running bool
	casting bool
	frames  chan browser.Frame
}

func (d *stubDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	f := d.factory
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	return nil
}

func (d *stubDriver) Stop() error {
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()

	if wasRunning {
		f := d.factory
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}
	return nil
}

func (d *stubDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	f := d.factory
	f.mu.Lock()
	block, err := f.block, f.navErrs[url]
	f.mu.Unlock()

	if block {
		f.navigating <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *stubDriver) SetViewport(ctx context.Context, width, height int) error { return nil }

func (d *stubDriver) ApplyScale(ctx context.Context, factor float64) error { return nil }

func (d *stubDriver) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	f := d.factory
	f.mu.Lock()
	delay := f.shotDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte("shot:" + opts.Format), nil
}

func (d *stubDriver) StartScreencast(ctx context.Context, opts browser.ScreencastOptions) (<-chan browser.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.casting = true
	d.frames = make(chan browser.Frame)
	return d.frames, nil
}

func (d *stubDriver) StopScreencast() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.casting {
		d.casting = false
		close(d.frames)
	}
	return nil
}

func (d *stubDriver) IsScreencasting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.casting
}

// stubEncoder counts frames and returns a fixed payload.
type stubEncoder struct {
	mu     sync.Mutex
	frames int
}

func (e *stubEncoder) Begin(ctx context.Context, s encoder.Settings) error { return nil }

func (e *stubEncoder) EncodeFrame(jpeg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames++
	return nil
}

func (e *stubEncoder) End() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frames == 0 {
		return nil, errors.New("no frames")
	}
	return []byte("video"), nil
}

func (e *stubEncoder) Abort() {}

func (e *stubEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// memoryRepo is an in-memory capture.Repository.
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*capture.Record
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]*capture.Record)}
}

func (r *memoryRepo) Insert(ctx context.Context, rec *capture.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id string) (*capture.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id], nil
}

func (r *memoryRepo) FindRecent(ctx context.Context, limit int) ([]*capture.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*capture.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}
