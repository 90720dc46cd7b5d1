// Package scheduler is the Polling Scheduler (spec §4.5): one loop per
// physical bus (COM port + baud), polling its devices in ascending
// slave-id order and pushing results through the Write-Back Buffer and
// Broadcaster. Its tick-boundary-driven loop generalises the teacher
// corpus's ModbusDevicePoller (ticker + stopCh + WaitGroup) to a
// Running/Paused/Stopping state machine so the Parameter Service can
// safely interleave control transactions on the same bus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/arbiter"
	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/reading"
	"github.com/pyroscan/pyroscan/internal/registry"
	"github.com/pyroscan/pyroscan/internal/transport"
)

// ErrBusy is returned by Pause when a bus does not go idle within the
// caller's wait budget.
var ErrBusy = fmt.Errorf("scheduler: bus still busy after pause wait")

// Dialer builds the Arbiter serving one physical bus. main.go supplies
// an implementation backed by transport.New + arbiter.New; tests supply
// a fake.
type Dialer func(comPort string, baud int) *arbiter.Arbiter

// Buffer is the write-back sink the scheduler appends completed readings
// into (internal/writeback.Buffer satisfies this).
type Buffer interface {
	Append(r reading.Reading) error
}

// Publisher is the fan-out the scheduler notifies after every poll
// (internal/broadcast.Hub satisfies this).
type Publisher interface {
	Publish(r reading.Reading)
}

// Config tunes the scheduler's cadence.
type Config struct {
	CycleInterval time.Duration
	PollTimeout   time.Duration

	// StaleWindow bounds how long a device may go without a successful
	// read before a timeout failure is reported as Stale rather than
	// Err. Zero means 3x CycleInterval, the spec's typical default.
	StaleWindow time.Duration
}

func DefaultConfig() Config {
	return Config{CycleInterval: 2 * time.Second, PollTimeout: 500 * time.Millisecond}
}

func (c Config) staleWindow() time.Duration {
	if c.StaleWindow > 0 {
		return c.StaleWindow
	}
	return 3 * c.CycleInterval
}

// Scheduler owns one busRunner per distinct (com port, baud) pair seen in
// the Device Registry.
type Scheduler struct {
	cfg    Config
	reg    *registry.Store
	dial   Dialer
	buf    Buffer
	pub    Publisher
	log    *zap.Logger

	mu   sync.RWMutex
	runs map[registry.BusKey]*busRunner

	stopping atomic.Bool
	doneWG   sync.WaitGroup
}

func New(cfg Config, reg *registry.Store, dial Dialer, buf Buffer, pub Publisher, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		reg:  reg,
		dial: dial,
		buf:  buf,
		pub:  pub,
		log:  log,
		runs: make(map[registry.BusKey]*busRunner),
	}
}

// Start loads the current device snapshot, spins up a busRunner per bus,
// and launches a goroutine that reloads on every registry.ConfigChanged
// signal.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}

	s.doneWG.Add(1)
	go func() {
		defer s.doneWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.reg.ConfigChanged():
				if err := s.reload(ctx); err != nil {
					s.log.Error("scheduler: reload failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// reload re-reads the device list and converges the running busRunners to
// match it: new buses are started, buses with no enabled devices left are
// stopped, and existing buses get their device list swapped at the next
// cycle boundary (never mid-cycle).
func (s *Scheduler) reload(ctx context.Context) error {
	devices, err := s.reg.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: reload list devices: %w", err)
	}

	byBus := make(map[registry.BusKey][]registry.Device)
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		byBus[d.BusKey()] = append(byBus[d.BusKey()], d)
	}
	for key := range byBus {
		sort.Slice(byBus[key], func(i, j int) bool { return byBus[key][i].SlaveID < byBus[key][j].SlaveID })
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, devs := range byBus {
		if run, ok := s.runs[key]; ok {
			run.setDevices(devs)
			continue
		}
		run := newBusRunner(key, s.dial(key.ComPort, key.Baud), devs, s.cfg, s.buf, s.pub, s.log)
		s.runs[key] = run
		run.start()
	}
	for key, run := range s.runs {
		if _, ok := byBus[key]; !ok {
			run.stop()
			delete(s.runs, key)
		}
	}
	return nil
}

// Pause asks every bus to stop issuing new poll transactions and waits
// up to maxWait for any in-flight transaction to finish, so a Parameter
// Service control transaction can be submitted without racing a poll.
// Resume must always be called to release the pause, even on error.
func (s *Scheduler) Pause(ctx context.Context, maxWait time.Duration) error {
	s.mu.RLock()
	runs := make([]*busRunner, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	for _, r := range runs {
		r.pause()
	}

	deadline := time.Now().Add(maxWait)
	for _, r := range runs {
		for r.busy.Load() {
			if time.Now().After(deadline) {
				return ErrBusy
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Millisecond):
			}
		}
	}
	return nil
}

// Resume releases a prior Pause on every bus.
func (s *Scheduler) Resume() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.resume()
	}
}

// Resolve returns the Arbiter serving comPort, if any bus runner owns it.
// It backs internal/paramservice.BusResolver, letting the Parameter
// Service route a control transaction to the right bus without
// depending on the scheduler's internal bus map.
func (s *Scheduler) Resolve(comPort string) (*arbiter.Arbiter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, r := range s.runs {
		if key.ComPort == comPort {
			return r.arb, true
		}
	}
	return nil, false
}

// State is the overall scheduler state exposed to the health/metrics API.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// BusStats is a point-in-time snapshot of one bus's polling activity.
type BusStats struct {
	BusKey     registry.BusKey
	State      State
	Devices    int
	Cycles     int64
	Errors     int64
	SlowCycles int64
}

// Stats returns a snapshot per running bus, used by GET /api/polling/stats.
func (s *Scheduler) Stats() []BusStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BusStats, 0, len(s.runs))
	for key, r := range s.runs {
		out = append(out, BusStats{
			BusKey:     key,
			State:      r.state(),
			Devices:    r.deviceCount(),
			Cycles:     r.cycles.Load(),
			Errors:     r.errors.Load(),
			SlowCycles: r.slowCycles.Load(),
		})
	}
	return out
}

// BusSnapshot adapts BusStats to the shape internal/health.BusHealthCheck
// expects, keeping the health package free of a scheduler import.
type BusSnapshot struct {
	Key     string
	Cycles  int64
	Errors  int64
	Devices int
}

// HealthSnapshots returns the current bus stats in the form the bus
// health check consumes.
func (s *Scheduler) HealthSnapshots() []BusSnapshot {
	stats := s.Stats()
	out := make([]BusSnapshot, 0, len(stats))
	for _, st := range stats {
		out = append(out, BusSnapshot{
			Key:     fmt.Sprintf("%s@%d", st.BusKey.ComPort, st.BusKey.Baud),
			Cycles:  st.Cycles,
			Errors:  st.Errors,
			Devices: st.Devices,
		})
	}
	return out
}

// Stop stops every bus runner and waits for the reload-watcher goroutine
// to exit.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	s.mu.Lock()
	for _, r := range s.runs {
		r.stop()
	}
	s.runs = make(map[registry.BusKey]*busRunner)
	s.mu.Unlock()
	s.doneWG.Wait()
}

// busRunner polls one physical bus's devices on a tick-boundary timer, honouring a
// cooperative pause flag checked between devices (never cancelling a
// transaction already submitted to the Arbiter).
type busRunner struct {
	key registry.BusKey
	arb *arbiter.Arbiter
	cfg Config
	buf Buffer
	pub Publisher
	log *zap.Logger

	mu         sync.Mutex
	devices    []registry.Device
	lastOK     map[string]reading.Reading
	paused     atomic.Bool
	busy       atomic.Bool
	cycles     atomic.Int64
	errors     atomic.Int64
	slowCycles atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newBusRunner(key registry.BusKey, arb *arbiter.Arbiter, devices []registry.Device, cfg Config, buf Buffer, pub Publisher, log *zap.Logger) *busRunner {
	return &busRunner{
		key:     key,
		arb:     arb,
		cfg:     cfg,
		buf:     buf,
		pub:     pub,
		log:     log,
		devices: devices,
		lastOK:  make(map[string]reading.Reading),
		stopCh:  make(chan struct{}),
	}
}

func (r *busRunner) setDevices(devices []registry.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = devices
}

func (r *busRunner) start() {
	r.wg.Add(1)
	go r.run()
}

// run drives the bus loop off a tick boundary rather than a plain
// time.Ticker: a ticker silently coalesces and drops ticks a slow cycle
// overruns, which would hide the overrun instead of counting it.
func (r *busRunner) run() {
	defer r.wg.Done()

	next := time.Now().Add(r.cfg.CycleInterval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-timer.C:
			r.pollCycle()

			next = next.Add(r.cfg.CycleInterval)
			wait := time.Until(next)
			if wait <= 0 {
				// The cycle overran its boundary; start the next one
				// immediately and count the overrun instead of letting
				// missed ticks silently coalesce.
				r.slowCycles.Add(1)
				next = time.Now()
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

func (r *busRunner) pollCycle() {
	r.mu.Lock()
	devices := make([]registry.Device, len(r.devices))
	copy(devices, r.devices)
	r.mu.Unlock()

	for _, d := range devices {
		if r.paused.Load() {
			return
		}
		r.pollDevice(d)
	}
	r.cycles.Add(1)
}

func (r *busRunner) pollDevice(d registry.Device) {
	r.busy.Store(true)
	defer r.busy.Store(false)

	now := time.Now()
	req := modbus.BuildRequest(d.SlaveID, d.FuncCode, d.StartReg, d.RegisterCount)
	expectedLen := modbus.ExpectedReadReplyLen(d.RegisterCount)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PollTimeout)
	defer cancel()

	result := r.arb.Submit(ctx, arbiter.Transaction{
		Kind:             arbiter.KindPoll,
		Request:          req,
		ExpectedReplyLen: expectedLen,
		Deadline:         now.Add(r.cfg.PollTimeout),
	})

	rd, err := r.buildReading(d, now, result)
	if err != nil {
		r.errors.Add(1)
	} else {
		r.mu.Lock()
		r.lastOK[d.ID] = rd
		r.mu.Unlock()
	}
	if appendErr := r.buf.Append(rd); appendErr != nil {
		r.log.Warn("scheduler: write-back buffer rejected reading", zap.String("device", d.Name), zap.Error(appendErr))
	}
	r.pub.Publish(rd)
}

// buildReading classifies a completed transaction into OK, Err, or Stale.
// Stale requires both that the most recent failure was a timeout (never
// a hard transport/codec error) and that the device's last successful
// read is older than its stale window; it carries the last-OK reading
// forward with the status swapped, per spec, rather than fabricating a
// value.
func (r *busRunner) buildReading(d registry.Device, at time.Time, result arbiter.Result) (reading.Reading, error) {
	if result.Err != nil {
		if errors.Is(result.Err, transport.ErrTimeout) || errors.Is(result.Err, context.DeadlineExceeded) {
			if prior, stale := r.staleCandidate(d.ID, at); stale {
				return reading.NewStale(prior), result.Err
			}
		}
		return reading.NewErr(d.ID, d.Name, at, result.Err), result.Err
	}
	parsed, err := modbus.ParseReadResponse(result.Bytes, d.SlaveID, d.FuncCode, int(d.RegisterCount)*2)
	if err != nil {
		return reading.NewErr(d.ID, d.Name, at, err), err
	}
	decoded, err := modbus.DecodeTemperature(parsed.Raw, d.RegisterCount, d.Layout)
	if err != nil {
		return reading.NewErr(d.ID, d.Name, at, err), err
	}
	return reading.NewOK(d.ID, d.Name, at, decoded, parsed.Raw), nil
}

// staleCandidate reports whether d has gone without a successful read for
// longer than its stale window, returning the last-OK reading to carry
// forward if so. A device with no recorded last-OK reading yet (e.g. just
// added) cannot be Stale; it reports Err until its first success.
func (r *busRunner) staleCandidate(deviceID string, at time.Time) (reading.Reading, bool) {
	r.mu.Lock()
	prior, ok := r.lastOK[deviceID]
	r.mu.Unlock()
	if !ok {
		return reading.Reading{}, false
	}
	return prior, at.Sub(prior.At) >= r.cfg.staleWindow()
}

func (r *busRunner) pause()  { r.paused.Store(true) }
func (r *busRunner) resume() { r.paused.Store(false) }

func (r *busRunner) state() State {
	if r.paused.Load() {
		return StatePaused
	}
	return StateRunning
}

func (r *busRunner) deviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *busRunner) stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.arb.Close()
}
