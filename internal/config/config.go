package config

import (
	"bufio"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/detect"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

// Backend names accepted by BACKEND.
const (
	BackendMock   = "mock"
	BackendEvdev  = "evdev"
	BackendSerial = "serial"
)

// Config holds all application configuration values.
type Config struct {
	// Pedal mapping. Devices are ordinals into the enumerated device list,
	// nil when the channel is unmapped. Axes use the legacy encoding
	// (0-5 ordinary axes, 100+n slider n).
	ClutchDevice   *int
	BrakeDevice    *int
	ThrottleDevice *int
	ClutchAxis     int
	BrakeAxis      int
	ThrottleAxis   int

	// Trace
	TraceSeconds  int
	ColorClutch   string
	ColorBrake    string
	ColorThrottle string

	// Devices
	Backend        string // mock, evdev or serial
	SerialPort     string
	SerialBaudRate int
	PollInterval   int // milliseconds

	// Detection
	DetectThreshold int // raw units
	DetectTimeout   int // seconds
	DetectSettle    int // milliseconds

	// MQTT
	MQTTBroker     string
	MQTTClientID   string
	TopicPedals    string
	TopicDetection string

	// Web Server
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayUpdateInterval int // milliseconds
}

var (
	globalConfig *Config
	globalPath   string
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a configuration with every optional value filled in and
// no pedal mapped.
func Defaults() *Config {
	return &Config{
		ClutchAxis:            2,
		BrakeAxis:             1,
		ThrottleAxis:          0,
		TraceSeconds:          10,
		ColorClutch:           "#FF6B6B",
		ColorBrake:            "#4ECDC4",
		ColorThrottle:         "#95E1D3",
		Backend:               BackendMock,
		SerialBaudRate:        115200,
		PollInterval:          16,
		DetectThreshold:       3000,
		DetectTimeout:         10,
		DetectSettle:          200,
		TopicPedals:           "pedals/sample",
		TopicDetection:        "pedals/detection",
		WebServerPort:         8080,
		DisplayUpdateInterval: 100,
	}
}

// Load reads the configuration file and returns a Config struct. Keys
// missing from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Defaults(), nil
	}
	return Load(configPath)
}

func parseOrdinal(key, value string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%s must be >= 0, got %d", key, n)
	}
	return &n, nil
}

func parseAxis(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 || (n >= axis.AxisCount && n < axis.SliderOffset) {
		return 0, fmt.Errorf("%s must be 0-%d or %d+ for sliders, got %d", key, axis.AxisCount-1, axis.SliderOffset, n)
	}
	return n, nil
}

func parsePositive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Pedal mapping
	case "CLUTCH_DEVICE":
		c.ClutchDevice, err = parseOrdinal(key, value)
	case "BRAKE_DEVICE":
		c.BrakeDevice, err = parseOrdinal(key, value)
	case "THROTTLE_DEVICE":
		c.ThrottleDevice, err = parseOrdinal(key, value)
	case "CLUTCH_AXIS":
		c.ClutchAxis, err = parseAxis(key, value)
	case "BRAKE_AXIS":
		c.BrakeAxis, err = parseAxis(key, value)
	case "THROTTLE_AXIS":
		c.ThrottleAxis, err = parseAxis(key, value)

	// Trace
	case "TRACE_SECONDS":
		c.TraceSeconds, err = parsePositive(key, value)
	case "COLOR_CLUTCH":
		c.ColorClutch = value
	case "COLOR_BRAKE":
		c.ColorBrake = value
	case "COLOR_THROTTLE":
		c.ColorThrottle = value

	// Devices
	case "BACKEND":
		c.Backend = strings.ToLower(value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parsePositive(key, value)
	case "POLL_INTERVAL":
		c.PollInterval, err = parsePositive(key, value)

	// Detection
	case "DETECT_THRESHOLD":
		c.DetectThreshold, err = parsePositive(key, value)
	case "DETECT_TIMEOUT":
		c.DetectTimeout, err = parsePositive(key, value)
	case "DETECT_SETTLE":
		c.DetectSettle, err = strconv.Atoi(value)
		if err != nil {
			err = fmt.Errorf("invalid DETECT_SETTLE %q: %w", value, err)
		} else if c.DetectSettle < 0 {
			err = fmt.Errorf("DETECT_SETTLE must be >= 0, got %d", c.DetectSettle)
		}

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_PEDALS":
		c.TopicPedals = value
	case "TOPIC_DETECTION":
		c.TopicDetection = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parsePositive(key, value)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parsePositive(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMock, BackendEvdev:
	case BackendSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for BACKEND=serial")
		}
	default:
		return fmt.Errorf("BACKEND must be mock, evdev or serial, got %q", c.Backend)
	}
	for _, ch := range pedals.Channels {
		if _, err := ParseColor(c.Color(ch)); err != nil {
			return fmt.Errorf("COLOR_%s: %w", strings.ToUpper(ch.String()), err)
		}
	}
	return nil
}

// ParseColor parses #RRGGBB.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q is not #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func (c *Config) Device(ch pedals.Channel) *int {
	switch ch {
	case pedals.Clutch:
		return c.ClutchDevice
	case pedals.Brake:
		return c.BrakeDevice
	case pedals.Throttle:
		return c.ThrottleDevice
	}
	return nil
}

func (c *Config) Axis(ch pedals.Channel) axis.Selector {
	switch ch {
	case pedals.Clutch:
		return axis.FromLegacy(c.ClutchAxis)
	case pedals.Brake:
		return axis.FromLegacy(c.BrakeAxis)
	case pedals.Throttle:
		return axis.FromLegacy(c.ThrottleAxis)
	}
	return axis.Selector{}
}

func (c *Config) Color(ch pedals.Channel) string {
	switch ch {
	case pedals.Clutch:
		return c.ColorClutch
	case pedals.Brake:
		return c.ColorBrake
	case pedals.Throttle:
		return c.ColorThrottle
	}
	return ""
}

// Colors returns the channel colors indexed by pedals.Channel. Invalid
// entries fall back to white.
func (c *Config) Colors() [pedals.ChannelCount]color.Color {
	var out [pedals.ChannelCount]color.Color
	for _, ch := range pedals.Channels {
		rgba, err := ParseColor(c.Color(ch))
		if err != nil {
			out[ch] = color.White
			continue
		}
		out[ch] = rgba
	}
	return out
}

// ColorStrings returns the raw color values indexed by pedals.Channel.
func (c *Config) ColorStrings() [pedals.ChannelCount]string {
	return [pedals.ChannelCount]string{c.ColorClutch, c.ColorBrake, c.ColorThrottle}
}

// SetMapping stores ordinal and sel for ch.
func (c *Config) SetMapping(ch pedals.Channel, ordinal *int, sel axis.Selector) {
	switch ch {
	case pedals.Clutch:
		c.ClutchDevice, c.ClutchAxis = ordinal, sel.Legacy()
	case pedals.Brake:
		c.BrakeDevice, c.BrakeAxis = ordinal, sel.Legacy()
	case pedals.Throttle:
		c.ThrottleDevice, c.ThrottleAxis = ordinal, sel.Legacy()
	}
}

// SetColor validates value as #RRGGBB and stores it for ch.
func (c *Config) SetColor(ch pedals.Channel, value string) error {
	rgba, err := ParseColor(value)
	if err != nil {
		return err
	}
	value = fmt.Sprintf("#%02X%02X%02X", rgba.R, rgba.G, rgba.B)
	switch ch {
	case pedals.Clutch:
		c.ColorClutch = value
	case pedals.Brake:
		c.ColorBrake = value
	case pedals.Throttle:
		c.ColorThrottle = value
	default:
		return fmt.Errorf("unknown channel %d", int(ch))
	}
	return nil
}

// ApplyDetection maps ch to the detected device and axis.
func (c *Config) ApplyDetection(ch pedals.Channel, res detect.Result) {
	idx := res.DeviceIndex
	c.SetMapping(ch, &idx, res.Axis)
}

// ResolveDevices turns the stored ordinals into poller mappings against the
// current enumeration. Ordinals past the end leave the channel unmapped.
func (c *Config) ResolveDevices(infos []device.Info) [pedals.ChannelCount]pedals.Mapping {
	var out [pedals.ChannelCount]pedals.Mapping
	for _, ch := range pedals.Channels {
		out[ch].Axis = c.Axis(ch)
		if ord := c.Device(ch); ord != nil && *ord >= 0 && *ord < len(infos) {
			out[ch].DeviceID = infos[*ord].ID
		}
	}
	return out
}

// Poll returns the poller interval.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// Trace returns the trace window.
func (c *Config) Trace() time.Duration {
	return time.Duration(c.TraceSeconds) * time.Second
}

// Detection returns the detector tuning.
func (c *Config) Detection() detect.Config {
	return detect.Config{
		Threshold:    c.DetectThreshold,
		Timeout:      time.Duration(c.DetectTimeout) * time.Second,
		PollInterval: detect.DefaultConfig().PollInterval,
		SettleDelay:  c.settleDelay(),
	}
}

// settleDelay maps DETECT_SETTLE=0 to an explicit "no settle".
func (c *Config) settleDelay() time.Duration {
	if c.DetectSettle == 0 {
		return detect.NoSettle
	}
	return time.Duration(c.DetectSettle) * time.Millisecond
}

func formatOrdinal(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

// Save writes c to configPath, replacing the file atomically.
func (c *Config) Save(configPath string) error {
	var b strings.Builder
	w := func(key string, value interface{}) {
		fmt.Fprintf(&b, "%s=%v\n", key, value)
	}

	b.WriteString("# Pedal mapping\n")
	w("CLUTCH_DEVICE", formatOrdinal(c.ClutchDevice))
	w("BRAKE_DEVICE", formatOrdinal(c.BrakeDevice))
	w("THROTTLE_DEVICE", formatOrdinal(c.ThrottleDevice))
	w("CLUTCH_AXIS", c.ClutchAxis)
	w("BRAKE_AXIS", c.BrakeAxis)
	w("THROTTLE_AXIS", c.ThrottleAxis)

	b.WriteString("\n# Trace\n")
	w("TRACE_SECONDS", c.TraceSeconds)
	w("COLOR_CLUTCH", c.ColorClutch)
	w("COLOR_BRAKE", c.ColorBrake)
	w("COLOR_THROTTLE", c.ColorThrottle)

	b.WriteString("\n# Devices\n")
	w("BACKEND", c.Backend)
	if c.SerialPort != "" {
		w("SERIAL_PORT", c.SerialPort)
	}
	w("SERIAL_BAUD_RATE", c.SerialBaudRate)
	w("POLL_INTERVAL", c.PollInterval)

	b.WriteString("\n# Detection\n")
	w("DETECT_THRESHOLD", c.DetectThreshold)
	w("DETECT_TIMEOUT", c.DetectTimeout)
	w("DETECT_SETTLE", c.DetectSettle)

	b.WriteString("\n# MQTT\n")
	if c.MQTTBroker != "" {
		w("MQTT_BROKER", c.MQTTBroker)
	}
	if c.MQTTClientID != "" {
		w("MQTT_CLIENT_ID", c.MQTTClientID)
	}
	w("TOPIC_PEDALS", c.TopicPedals)
	w("TOPIC_DETECTION", c.TopicDetection)

	b.WriteString("\n# Web Server\n")
	w("WEB_SERVER_PORT", c.WebServerPort)

	b.WriteString("\n# Display\n")
	w("DISPLAY_ENABLED", c.DisplayEnabled)
	w("DISPLAY_UPDATE_INTERVAL", c.DisplayUpdateInterval)

	tmp, err := os.CreateTemp(filepath.Dir(configPath), ".config-*")
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// InitGlobal initializes the global configuration from file, falling back
// to defaults when the file does not exist yet. Only the first call has an
// effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalPath = configPath
		globalConfig, err = LoadOrDefault(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Path returns the file the global configuration was loaded from.
func Path() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalPath
}
