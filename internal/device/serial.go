// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/monitoring"
)

// FramePrefix is the proprietary sentence emitted by serial pedal boxes:
//
//	$PPDL,<x>,<y>,<z>,<rx>,<ry>,<rz>[,<slider>...]*CS
const FramePrefix = "PPDL"

// SerialPort describes one pedal box attached to a serial line.
type SerialPort struct {
	Path     string
	Name     string
	BaudRate uint
}

// SerialBackend reads DIY pedal boxes that stream checksummed frames over a
// serial port.
type SerialBackend struct {
	ports []SerialPort
	reg   Registry

	// open is swapped in tests.
	open func(SerialPort) (io.ReadWriteCloser, error)
	// exists is swapped in tests.
	exists func(path string) bool
}

func NewSerialBackend(ports ...SerialPort) *SerialBackend {
	return &SerialBackend{
		ports:  ports,
		open:   openSerialPort,
		exists: pathExists,
	}
}

func openSerialPort(p SerialPort) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              p.Path,
		BaudRate:              p.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	return serial.Open(opts)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (b *SerialBackend) Enumerate() ([]Info, error) {
	var infos []Info
	for _, p := range b.ports {
		if !b.exists(p.Path) {
			continue
		}
		name := p.Name
		if name == "" {
			name = "Serial pedals " + p.Path
		}
		infos = append(infos, Info{ID: p.Path, Name: name})
	}
	return Dedup(infos), nil
}

func (b *SerialBackend) Open(id string) (Handle, error) {
	var port *SerialPort
	for i := range b.ports {
		if b.ports[i].Path == id {
			port = &b.ports[i]
			break
		}
	}
	if port == nil || !b.exists(id) {
		return nil, fmt.Errorf("serial %s: %w", id, ErrNotFound)
	}
	if err := b.reg.Acquire(id); err != nil {
		return nil, err
	}
	rwc, err := b.open(*port)
	if err != nil {
		b.reg.Release(id)
		return nil, fmt.Errorf("serial %s: %w: %v", id, ErrUnavailable, err)
	}
	monitoring.Logf("serial: opened %s at %d baud", id, port.BaudRate)

	h := &serialHandle{id: id, port: rwc, done: make(chan struct{})}
	go h.read()
	return h, nil
}

func (b *SerialBackend) Release(h Handle) error {
	sh, ok := h.(*serialHandle)
	if !ok {
		return fmt.Errorf("release: foreign handle %T", h)
	}
	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		return nil
	}
	sh.closed = true
	sh.mu.Unlock()

	err := sh.port.Close()
	<-sh.done
	b.reg.Release(sh.id)
	return err
}

// frameType is the sentence type go-nmea reports for FramePrefix: the
// leading P marks a proprietary talker.
const frameType = "PDL"

// newFrameParser returns a parser that accepts pedal box sentences. A
// SentenceParser is not safe for concurrent use.
func newFrameParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{
			frameType: func(b nmea.BaseSentence) (nmea.Sentence, error) {
				return b, nil
			},
		},
	}
}

// ParseFrame decodes one pedal box sentence.
func ParseFrame(line string) (State, error) {
	return parseFrame(newFrameParser(), line)
}

func parseFrame(p *nmea.SentenceParser, line string) (State, error) {
	sentence, err := p.Parse(strings.TrimSpace(line))
	if err != nil {
		return State{}, err
	}
	s, ok := sentence.(nmea.BaseSentence)
	if !ok || s.Prefix() != FramePrefix {
		return State{}, fmt.Errorf("unexpected sentence %q", sentence.Prefix())
	}
	if len(s.Fields) < axis.AxisCount {
		return State{}, fmt.Errorf("frame has %d fields, want at least %d", len(s.Fields), axis.AxisCount)
	}

	var st State
	for i, f := range s.Fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return State{}, fmt.Errorf("field %d: %w", i, err)
		}
		if i < axis.AxisCount {
			st.Axes[i] = v
		} else {
			st.Sliders = append(st.Sliders, v)
		}
	}
	return st, nil
}

type serialHandle struct {
	id   string
	port io.ReadWriteCloser
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	latest  State
	latched State
	fresh   bool
	readErr error
}

func (h *serialHandle) ID() string {
	return h.id
}

// read keeps the most recent frame until the port is closed or fails.
func (h *serialHandle) read() {
	defer close(h.done)
	reader := bufio.NewReader(h.port)
	parser := newFrameParser()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			h.mu.Lock()
			if !h.closed {
				h.readErr = err
				monitoring.Logf("serial: %s read error: %v", h.id, err)
			}
			h.mu.Unlock()
			return
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		st, err := parseFrame(parser, line)
		if err != nil {
			// line noise or partial sentences
			continue
		}
		h.mu.Lock()
		h.latest = st
		h.fresh = true
		h.mu.Unlock()
	}
}

func (h *serialHandle) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("serial %s: %w: handle released", h.id, ErrUnavailable)
	}
	if h.readErr != nil {
		if errors.Is(h.readErr, io.EOF) {
			return fmt.Errorf("serial %s: %w: disconnected", h.id, ErrUnavailable)
		}
		return fmt.Errorf("serial %s: %w: %v", h.id, ErrUnavailable, h.readErr)
	}
	if h.fresh {
		h.latched = h.latest
		h.latched.Sliders = append([]int(nil), h.latest.Sliders...)
		h.fresh = false
	}
	return nil
}

func (h *serialHandle) State() (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.latched
	s.Sliders = append([]int(nil), h.latched.Sliders...)
	return s, nil
}
