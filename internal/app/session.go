// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/detect"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
	"github.com/relabs-tech/pedal_telemetry/internal/timeutil"
	"github.com/relabs-tech/pedal_telemetry/internal/trace"
)

// ErrSessionClosed is returned by operations on a closed Session.
var ErrSessionClosed = errors.New("session closed")

// DetectionEvent reports the end of one detection run.
type DetectionEvent struct {
	RunID   string         `json:"run_id"`
	Channel string         `json:"channel"`
	Outcome string         `json:"outcome"`
	Result  *detect.Result `json:"result,omitempty"`
	Time    time.Time      `json:"time"`
}

// Session ties the poller, the trace buffer and the detector to one backend
// and one configuration. The poller and the detector never own devices at
// the same time: every operation that needs the devices pauses the poller
// first.
type Session struct {
	backend    device.Backend
	configPath string

	Poller   *pedals.Poller
	Trace    *trace.Buffer
	Detector *detect.Detector

	mu     sync.Mutex // serializes device handoffs
	closed bool
	cfgMu  sync.RWMutex
	cfg    *config.Config

	subsMu      sync.RWMutex
	subs        map[int]func(pedals.Sample)
	nextSub     int
	onDetection []func(DetectionEvent)
}

// NewSession creates a stopped session. Detection results are saved to
// configPath unless it is empty.
func NewSession(backend device.Backend, cfg *config.Config, configPath string, clock timeutil.Clock) *Session {
	s := &Session{
		backend:    backend,
		configPath: configPath,
		cfg:        cfg,
		Trace:      trace.NewBuffer(cfg.Trace(), clock),
		Detector:   detect.NewDetector(backend, cfg.Detection(), clock),
		subs:       make(map[int]func(pedals.Sample)),
	}
	s.Poller = pedals.NewPoller(backend, s.deliver, pedals.WithInterval(cfg.Poll()))
	return s
}

func (s *Session) deliver(sample pedals.Sample) {
	s.Trace.Add(sample)
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, fn := range s.subs {
		fn(sample)
	}
}

// Subscribe registers fn for every delivered sample. fn runs on the polling
// goroutine and must not block.
func (s *Session) Subscribe(fn func(pedals.Sample)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// OnDetection registers fn for the end of every detection run.
func (s *Session) OnDetection(fn func(DetectionEvent)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.onDetection = append(s.onDetection, fn)
}

// Config returns a copy of the current configuration.
func (s *Session) Config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return *s.cfg
}

// Devices enumerates the backend.
func (s *Session) Devices() ([]device.Info, error) {
	infos, err := s.backend.Enumerate()
	if err != nil {
		return nil, err
	}
	return device.Dedup(infos), nil
}

// Start maps the configured devices and starts polling. A mapping error is
// returned for reporting only; the poller runs with whatever opened.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	err := s.configureLocked()
	s.Poller.Start()
	return err
}

func (s *Session) configureLocked() error {
	infos, err := s.Devices()
	if err != nil {
		// nothing can be mapped, but the poller still emits zeros
		log.Printf("session: enumerate: %v", err)
	}
	s.cfgMu.RLock()
	m := s.cfg.ResolveDevices(infos)
	s.cfgMu.RUnlock()
	cerr := s.Poller.Configure(m[pedals.Clutch], m[pedals.Brake], m[pedals.Throttle])
	return errors.Join(err, cerr)
}

// Close stops polling and detection and releases every device. A Detect
// in progress is cancelled and does not resume polling.
func (s *Session) Close() {
	s.Detector.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.Poller.Close()
}

// SetTraceWindow changes the trace window and remembers it in the
// configuration.
func (s *Session) SetTraceWindow(d time.Duration) {
	secs := int(d / time.Second)
	if secs <= 0 {
		return
	}
	s.cfgMu.Lock()
	s.cfg.TraceSeconds = secs
	s.cfgMu.Unlock()
	s.Trace.SetWindow(time.Duration(secs) * time.Second)
}

// pauseLocked releases the poller's devices and returns a function that
// remaps and resumes it if it was running.
func (s *Session) pauseLocked() (resume func() error) {
	wasRunning := s.Poller.Running()
	s.Poller.Close()
	return func() error {
		if s.closed {
			return nil
		}
		err := s.configureLocked()
		if wasRunning {
			s.Poller.Start()
		}
		return err
	}
}

// Detect pauses polling, runs one detection for ch and, on success, maps ch
// to the detected axis and saves the configuration. Polling resumes with the
// new mapping before Detect returns. onStatus may be nil.
func (s *Session) Detect(ctx context.Context, ch pedals.Channel, onStatus func(string)) (*detect.Result, detect.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, detect.OutcomeNone, ErrSessionClosed
	}

	resume := s.pauseLocked()

	var res *detect.Result
	runID := s.Detector.Start(ctx, func(r *detect.Result) { res = r }, onStatus)
	out := s.Detector.Wait()

	var err error
	if out == detect.Detected && res != nil {
		err = s.apply(ch, *res)
	}

	if rerr := resume(); rerr != nil {
		log.Printf("session: remap after detection: %v", rerr)
	}

	s.notifyDetection(DetectionEvent{
		RunID:   runID,
		Channel: ch.String(),
		Outcome: out.String(),
		Result:  res,
		Time:    time.Now(),
	})
	return res, out, err
}

func (s *Session) apply(ch pedals.Channel, res detect.Result) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.ApplyDetection(ch, res)
	log.Printf("session: %s mapped to %s %s", ch, res.DeviceName, res.Axis)
	return s.saveLocked("detection result")
}

// saveLocked writes the configuration if the session has a path. cfgMu
// must be held.
func (s *Session) saveLocked(what string) error {
	if s.configPath == "" {
		return nil
	}
	if err := s.cfg.Save(s.configPath); err != nil {
		return fmt.Errorf("save %s: %w", what, err)
	}
	return nil
}

// SetMapping maps ch to the device with the given enumeration ordinal (nil
// unmaps it) and axis, saves the configuration and remaps the poller.
func (s *Session) SetMapping(ch pedals.Channel, ordinal *int, sel axis.Selector) error {
	if ordinal != nil && *ordinal < 0 {
		return fmt.Errorf("invalid device ordinal %d", *ordinal)
	}
	if !sel.Valid() {
		return fmt.Errorf("invalid axis %s", sel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	resume := s.pauseLocked()

	s.cfgMu.Lock()
	s.cfg.SetMapping(ch, ordinal, sel)
	err := s.saveLocked("mapping")
	s.cfgMu.Unlock()
	log.Printf("session: %s mapped to device %s, %s", ch, formatOrdinal(ordinal), sel)

	if rerr := resume(); rerr != nil {
		log.Printf("session: remap after mapping change: %v", rerr)
	}
	return err
}

// SetColor changes the trace color of ch and saves the configuration.
func (s *Session) SetColor(ch pedals.Channel, value string) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if err := s.cfg.SetColor(ch, value); err != nil {
		return err
	}
	return s.saveLocked("color")
}

func formatOrdinal(p *int) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprint(*p)
}

func (s *Session) notifyDetection(ev DetectionEvent) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, fn := range s.onDetection {
		fn(ev)
	}
}

// CancelDetection stops an active detection run. The pending Detect call
// returns detect.Cancelled.
func (s *Session) CancelDetection() {
	s.Detector.Stop()
}

// ListAxes pauses polling and lists every channel of every device.
func (s *Session) ListAxes() ([]DeviceAxes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	resume := s.pauseLocked()
	defer func() {
		if err := resume(); err != nil {
			log.Printf("session: remap after listing: %v", err)
		}
	}()
	return ListAxes(s.backend)
}
