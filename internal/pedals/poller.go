// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pedals

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/monitoring"
)

const (
	DefaultInterval    = 16 * time.Millisecond
	DefaultJoinTimeout = time.Second
)

// Mapping binds one channel to an axis of a device. An empty DeviceID leaves
// the channel unmapped.
type Mapping struct {
	DeviceID string
	Axis     axis.Selector
}

type binding struct {
	mapping Mapping
	handle  device.Handle
	failing bool
}

// run is one Start/Stop cycle of the sampling loop.
type run struct {
	stop chan struct{}
	done chan struct{}

	// gate is held while delivering; once closed nothing more is delivered.
	gate   sync.Mutex
	closed bool
}

// Poller samples the three pedal channels at a fixed interval and hands each
// Sample to a delivery callback. Each mapped device is opened once and shared
// by every channel mapped to it.
type Poller struct {
	backend     device.Backend
	deliver     func(Sample)
	interval    time.Duration
	joinTimeout time.Duration

	mu       sync.Mutex // guards bindings and handles
	bindings [ChannelCount]binding
	handles  []device.Handle

	life sync.Mutex // serializes Start and Stop
	cur  *run

	lastMu sync.RWMutex
	last   Sample
}

type Option func(*Poller)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithJoinTimeout bounds how long Stop waits for the loop to exit.
func WithJoinTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.joinTimeout = d
		}
	}
}

// NewPoller creates a stopped poller with every channel unmapped. deliver may
// be nil when callers only use Last.
func NewPoller(backend device.Backend, deliver func(Sample), opts ...Option) *Poller {
	p := &Poller{
		backend:     backend,
		deliver:     deliver,
		interval:    DefaultInterval,
		joinTimeout: DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configure releases every handle the poller holds, then opens the devices
// named by the mappings. Channels whose device cannot be opened stay
// unmapped and read 0; their errors are joined into the result.
func (p *Poller) Configure(clutch, brake, throttle Mapping) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseLocked()

	opened := make(map[string]device.Handle)
	failed := make(map[string]bool)
	var errs []error
	for i, m := range [ChannelCount]Mapping{clutch, brake, throttle} {
		b := binding{mapping: m}
		if m.DeviceID != "" && !failed[m.DeviceID] {
			h, ok := opened[m.DeviceID]
			if !ok {
				var err error
				h, err = p.backend.Open(m.DeviceID)
				if err != nil {
					failed[m.DeviceID] = true
					errs = append(errs, fmt.Errorf("%s: %w", Channel(i), err))
					monitoring.Logf("poller: %s unmapped: %v", Channel(i), err)
				} else {
					opened[m.DeviceID] = h
					p.handles = append(p.handles, h)
				}
			}
			b.handle = h
		}
		p.bindings[i] = b
	}
	return errors.Join(errs...)
}

// Mappings returns the configured mapping of every channel.
func (p *Poller) Mappings() [ChannelCount]Mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [ChannelCount]Mapping
	for i, b := range p.bindings {
		out[i] = b.mapping
	}
	return out
}

// Connected reports whether ch has an open device.
func (p *Poller) Connected(ch Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch < 0 || int(ch) >= ChannelCount {
		return false
	}
	return p.bindings[ch].handle != nil
}

func (p *Poller) releaseLocked() {
	for _, h := range p.handles {
		if err := p.backend.Release(h); err != nil {
			monitoring.Logf("poller: release %s: %v", h.ID(), err)
		}
	}
	p.handles = nil
	for i := range p.bindings {
		p.bindings[i] = binding{}
	}
}

// SampleOnce reads every channel once and records the result as Last.
func (p *Poller) SampleOnce() Sample {
	p.mu.Lock()
	var s Sample
	for i := range p.bindings {
		b := &p.bindings[i]
		v, err := read(b.handle, b.mapping.Axis)
		if err != nil && !b.failing {
			monitoring.Logf("poller: %s reading 0: %v", Channel(i), err)
		} else if err == nil && b.failing {
			monitoring.Logf("poller: %s recovered", Channel(i))
		}
		b.failing = err != nil
		s.Set(Channel(i), v)
	}
	p.mu.Unlock()

	p.lastMu.Lock()
	p.last = s
	p.lastMu.Unlock()
	return s
}

// Last returns the most recent sample.
func (p *Poller) Last() Sample {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

// Running reports whether the sampling loop is active.
func (p *Poller) Running() bool {
	p.life.Lock()
	defer p.life.Unlock()
	return p.cur != nil
}

// Start launches the sampling loop. It is a no-op when already running.
func (p *Poller) Start() {
	p.life.Lock()
	defer p.life.Unlock()
	if p.cur != nil {
		return
	}
	r := &run{stop: make(chan struct{}), done: make(chan struct{})}
	p.cur = r
	go p.loop(r)
}

// Stop ends the sampling loop, waiting at most the join timeout for it to
// exit. No sample is delivered after Stop returns, so a delivery in progress
// is always waited for, without limit. deliver must not call Stop or Close:
// that deadlocks on the delivery gate. Stop is a no-op when the loop is not
// running.
func (p *Poller) Stop() {
	p.life.Lock()
	defer p.life.Unlock()
	r := p.cur
	if r == nil {
		return
	}
	p.cur = nil

	close(r.stop)
	select {
	case <-r.done:
	case <-time.After(p.joinTimeout):
		monitoring.Logf("poller: loop did not exit within %s", p.joinTimeout)
	}

	r.gate.Lock()
	r.closed = true
	r.gate.Unlock()
}

// Close stops the loop and releases every device.
func (p *Poller) Close() {
	p.Stop()
	p.mu.Lock()
	p.releaseLocked()
	p.mu.Unlock()
}

func (p *Poller) loop(r *run) {
	defer close(r.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		s := p.SampleOnce()
		if p.deliver != nil {
			r.gate.Lock()
			if !r.closed {
				p.deliver(s)
			}
			r.gate.Unlock()
		}

		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
	}
}
