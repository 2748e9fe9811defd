package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
	"github.com/relabs-tech/pedal_telemetry/internal/trace"
)

const (
	oledWidth  = 128
	oledHeight = 64

	barLeft   = 30
	barRight  = oledWidth - 2
	barHeight = 14
)

// Display drives a 128x64 SSD1306 OLED showing one bar per pedal.
type Display struct {
	bus i2c.BusCloser
	dev *ssd1306.Dev
}

// OpenDisplay initializes periph and the OLED on the default I2C bus.
func OpenDisplay() (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	d := &Display{bus: bus, dev: dev}
	if err := d.dev.Draw(d.dev.Bounds(), splashImage(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}
	return d, nil
}

// Show draws s.
func (d *Display) Show(s pedals.Sample, have bool) error {
	return d.dev.Draw(d.dev.Bounds(), pedalImage(s, have), image.Point{})
}

// Run redraws the latest sample every interval until ctx is done.
func (d *Display) Run(ctx context.Context, interval time.Duration, latest func() (pedals.Sample, bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, have := latest()
			if err := d.Show(s, have); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

func (d *Display) Close() error {
	if err := d.dev.Halt(); err != nil {
		log.Printf("display: halt: %v", err)
	}
	return d.bus.Close()
}

func blankImage() *image1bit.VerticalLSB {
	return image1bit.NewVerticalLSB(image.Rect(0, 0, oledWidth, oledHeight))
}

func newDrawer(img *image1bit.VerticalLSB) *font.Drawer {
	return &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func splashImage() *image1bit.VerticalLSB {
	img := blankImage()
	drawer := newDrawer(img)

	drawer.Dot = fixed.P(8, 26)
	drawer.DrawBytes([]byte("Pedal Telemetry"))

	drawer.Dot = fixed.P(22, 43)
	drawer.DrawBytes([]byte("waiting..."))
	return img
}

// pedalImage lays out three labelled bars, one row per channel.
func pedalImage(s pedals.Sample, have bool) *image1bit.VerticalLSB {
	img := blankImage()
	drawer := newDrawer(img)

	if !have {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Pedals"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	for _, ch := range pedals.Channels {
		top := 4 + int(ch)*(barHeight+6)
		drawer.Dot = fixed.P(0, top+barHeight-3)
		drawer.DrawBytes([]byte(barLabels[ch]))

		// outline
		for x := barLeft; x <= barRight; x++ {
			img.SetBit(x, top, image1bit.On)
			img.SetBit(x, top+barHeight-1, image1bit.On)
		}
		for y := top; y < top+barHeight; y++ {
			img.SetBit(barLeft, y, image1bit.On)
			img.SetBit(barRight, y, image1bit.On)
		}

		v := s.Get(ch)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		fill := barLeft + 1 + int(v*float64(barRight-barLeft-1))
		for x := barLeft + 1; x < fill; x++ {
			for y := top + 2; y < top+barHeight-2; y++ {
				img.SetBit(x, y, image1bit.On)
			}
		}
	}
	return img
}

// RunDisplay shows the pedals published on TOPIC_PEDALS.
func RunDisplay() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}

	disp, err := OpenDisplay()
	if err != nil {
		return err
	}
	defer disp.Close()

	var (
		mu   sync.RWMutex
		last pedals.Sample
		have bool
	)

	client, err := connectMQTT(cfg, "display")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Subscribe(cfg.TopicPedals, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s trace.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: pedals unmarshal error: %v", err)
			return
		}
		mu.Lock()
		last = s.Sample
		have = true
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicPedals)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("display: starting update loop")
	disp.Run(ctx, time.Duration(cfg.DisplayUpdateInterval)*time.Millisecond, func() (pedals.Sample, bool) {
		mu.RLock()
		defer mu.RUnlock()
		return last, have
	})
	return nil
}
