// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detect finds the axis a user is moving by watching every channel
// of every connected device against an idle baseline.
package detect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/monitoring"
	"github.com/relabs-tech/pedal_telemetry/internal/timeutil"
)

const (
	StatusNoDevices = "No devices found. Please connect a controller."
	StatusPress     = "Press the pedal now..."
	StatusTimeout   = "Detection timeout. No pedal input detected."
)

// NoSettle as Config.SettleDelay captures the second baseline right after
// the first.
const NoSettle time.Duration = -1

// Config tunes sensitivity and pacing. Zero fields fall back to the defaults.
type Config struct {
	// Threshold is the raw deviation from baseline that counts as movement.
	Threshold    int
	Timeout      time.Duration
	PollInterval time.Duration
	// SettleDelay separates the two baseline captures. Use NoSettle to skip
	// the wait.
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:    3000,
		Timeout:      10 * time.Second,
		PollInterval: 50 * time.Millisecond,
		SettleDelay:  200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = d.SettleDelay
	} else if c.SettleDelay < 0 {
		c.SettleDelay = NoSettle
	}
	return c
}

// Result identifies the moved channel.
// DeviceIndex is the device's position in the de-duplicated enumeration.
type Result struct {
	DeviceID    string        `json:"device_id"`
	DeviceName  string        `json:"device_name"`
	DeviceIndex int           `json:"device_index"`
	Axis        axis.Selector `json:"axis"`
}

// Phase is the position of the state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseEnumerating
	PhaseBaselineCapture
	PhaseWatching
	PhaseDone
)

var phaseNames = [...]string{"idle", "enumerating", "baseline", "watching", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	Detected
	TimedOut
	NoDevices
	Cancelled
	Failed
)

var outcomeNames = [...]string{"none", "detected", "timed_out", "no_devices", "cancelled", "failed"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

type run struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Detector runs at most one detection at a time against a backend. It never
// coordinates with the poller: callers release the poller's devices first.
type Detector struct {
	backend device.Backend
	cfg     Config
	clock   timeutil.Clock

	life  sync.Mutex
	cur   *run
	phase atomic.Int32
}

func NewDetector(backend device.Backend, cfg Config, clock timeutil.Clock) *Detector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Detector{backend: backend, cfg: cfg.withDefaults(), clock: clock}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// State returns the current phase.
func (d *Detector) State() Phase {
	return Phase(d.phase.Load())
}

func (d *Detector) setPhase(p Phase) {
	d.phase.Store(int32(p))
}

// Start stops any active run, then begins a new one on its own goroutine and
// returns its id. onResult receives the detected channel, or nil on timeout,
// when no devices are available, or on failure. Cancelled runs invoke
// neither callback. Callbacks run on the detection goroutine and must not
// call Stop.
func (d *Detector) Start(ctx context.Context, onResult func(*Result), onStatus func(string)) string {
	d.life.Lock()
	defer d.life.Unlock()
	d.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	r := &run{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	d.cur = r
	monitoring.Logf("detect: run %s started", r.id)
	go d.run(ctx, r, onResult, onStatus)
	return r.id
}

// Stop cancels the active run and returns once its devices are released.
// It is idempotent.
func (d *Detector) Stop() {
	d.life.Lock()
	defer d.life.Unlock()
	d.stopLocked()
}

func (d *Detector) stopLocked() {
	r := d.cur
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	d.setPhase(PhaseIdle)
}

// Wait blocks until the most recent run ends and returns its outcome.
func (d *Detector) Wait() Outcome {
	d.life.Lock()
	r := d.cur
	d.life.Unlock()
	if r == nil {
		return OutcomeNone
	}
	<-r.done
	return r.outcome
}

// watched is one opened device with its baselines.
type watched struct {
	info   device.Info
	index  int
	handle device.Handle

	axes    [axis.AxisCount]int
	sliders map[int]int
}

func (w *watched) capture(st device.State) {
	w.axes = st.Axes
	w.sliders = make(map[int]int, len(st.Sliders))
	for i, v := range st.Sliders {
		w.sliders[i] = v
	}
}

// moved returns the first channel, axes before sliders, whose deviation
// exceeds threshold. Sliders without a baseline are recorded instead.
func (w *watched) moved(st device.State, threshold int) (axis.Selector, bool) {
	for i, v := range st.Axes {
		if abs(v-w.axes[i]) > threshold {
			return axis.Ordinary(i), true
		}
	}
	for i, v := range st.Sliders {
		base, ok := w.sliders[i]
		if !ok {
			w.sliders[i] = v
			continue
		}
		if abs(v-base) > threshold {
			return axis.Slider(i), true
		}
	}
	return axis.Selector{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// pollState refreshes h and reads its state, turning driver panics into
// errors.
func pollState(h device.Handle) (st device.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", h.ID(), r)
		}
	}()
	if err := h.Poll(); err != nil {
		return device.State{}, err
	}
	return h.State()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Detector) run(ctx context.Context, r *run, onResult func(*Result), onStatus func(string)) {
	defer close(r.done)

	status := func(s string) {
		if ctx.Err() == nil && onStatus != nil {
			onStatus(s)
		}
	}
	finish := func(o Outcome, res *Result, msg string) {
		if ctx.Err() != nil {
			o = Cancelled
		} else {
			status(msg)
			if onResult != nil {
				onResult(res)
			}
		}
		r.outcome = o
		d.setPhase(PhaseDone)
		monitoring.Logf("detect: run %s finished: %s", r.id, o)
	}

	d.setPhase(PhaseEnumerating)
	infos, err := d.backend.Enumerate()
	if err != nil {
		finish(Failed, nil, fmt.Sprintf("Error during detection: %v", err))
		return
	}
	infos = device.Dedup(infos)
	if len(infos) == 0 {
		finish(NoDevices, nil, StatusNoDevices)
		return
	}

	d.setPhase(PhaseBaselineCapture)
	var open []*watched
	defer func() {
		for _, w := range open {
			if err := d.backend.Release(w.handle); err != nil {
				monitoring.Logf("detect: release %s: %v", w.info.ID, err)
			}
		}
	}()
	for i, info := range infos {
		h, err := d.backend.Open(info.ID)
		if err != nil {
			monitoring.Logf("detect: skipping %s: %v", info.ID, err)
			continue
		}
		open = append(open, &watched{info: info, index: i, handle: h})
	}

	active := make([]*watched, 0, len(open))
	for _, w := range open {
		st, err := pollState(w.handle)
		if err != nil {
			monitoring.Logf("detect: skipping %s: %v", w.info.ID, err)
			continue
		}
		w.capture(st)
		active = append(active, w)
	}
	if len(active) == 0 {
		finish(NoDevices, nil, StatusNoDevices)
		return
	}

	if !sleep(ctx, d.cfg.SettleDelay) {
		finish(Cancelled, nil, "")
		return
	}
	active = d.poll(active, func(w *watched, st device.State) bool {
		w.capture(st)
		return false
	})

	status(StatusPress)
	d.setPhase(PhaseWatching)

	start := d.clock.Now()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			finish(Cancelled, nil, "")
			return
		}

		var res *Result
		active = d.poll(active, func(w *watched, st device.State) bool {
			sel, ok := w.moved(st, d.cfg.Threshold)
			if ok {
				res = &Result{DeviceID: w.info.ID, DeviceName: w.info.Name, DeviceIndex: w.index, Axis: sel}
			}
			return ok
		})
		if res != nil {
			finish(Detected, res, fmt.Sprintf("Detected: %s (%s)", res.DeviceName, res.Axis))
			return
		}

		if d.clock.Since(start) >= d.cfg.Timeout {
			finish(TimedOut, nil, StatusTimeout)
			return
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// poll visits every device in enumeration order, dropping those that fail,
// until visit returns true.
func (d *Detector) poll(devs []*watched, visit func(*watched, device.State) bool) []*watched {
	kept := devs[:0]
	for i, w := range devs {
		st, err := pollState(w.handle)
		if err != nil {
			monitoring.Logf("detect: dropping %s: %v", w.info.ID, err)
			continue
		}
		kept = append(kept, w)
		if visit(w, st) {
			return append(kept, devs[i+1:]...)
		}
	}
	return kept
}
