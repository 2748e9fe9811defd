package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/trace"
)

func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}

	client, err := connectMQTT(cfg, "console")
	if err != nil {
		return err
	}

	pedalsToken := client.Subscribe(cfg.TopicPedals, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s trace.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: pedals unmarshal error: %v", err)
			return
		}
		fmt.Printf("[%s] %s\n", s.Time.Format("15:04:05.000"), FormatBars(s.Sample, 20))
	})
	pedalsToken.Wait()
	if pedalsToken.Error() != nil {
		return pedalsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicPedals)

	detectToken := client.Subscribe(cfg.TopicDetection, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev DetectionEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: detection unmarshal error: %v", err)
			return
		}
		if ev.Result != nil {
			fmt.Printf("[DETECT] %s -> %s (%s) [%s]\n", ev.Channel, ev.Result.DeviceName, ev.Result.Axis, ev.Outcome)
			return
		}
		fmt.Printf("[DETECT] %s: %s\n", ev.Channel, ev.Outcome)
	})
	detectToken.Wait()
	if detectToken.Error() != nil {
		return detectToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicDetection)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
