package app

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
	"github.com/relabs-tech/pedal_telemetry/internal/trace"
)

// clientID returns the configured MQTT client id, or a unique one built
// from role so several tools can share a broker.
func clientID(cfg *config.Config, role string) string {
	if cfg.MQTTClientID != "" {
		return cfg.MQTTClientID + "-" + role
	}
	return fmt.Sprintf("pedal-telemetry-%s-%s", role, uuid.NewString()[:8])
}

func connectMQTT(cfg *config.Config, role string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID(cfg, role)).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("%s: connected to MQTT broker at %s", role, cfg.MQTTBroker)
	return client, nil
}

// Publisher forwards samples and detection results to MQTT. Samples are
// queued and published from a worker so the poller never waits on the
// network; when the queue is full new samples are dropped.
type Publisher struct {
	client         mqtt.Client
	topicPedals    string
	topicDetection string

	samples chan trace.Sample
	done    chan struct{}
	once    sync.Once
}

func NewPublisher(cfg *config.Config) (*Publisher, error) {
	client, err := connectMQTT(cfg, "telemetry")
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		client:         client,
		topicPedals:    cfg.TopicPedals,
		topicDetection: cfg.TopicDetection,
		samples:        make(chan trace.Sample, 64),
		done:           make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// PublishSample queues s without blocking.
func (p *Publisher) PublishSample(s pedals.Sample) {
	select {
	case p.samples <- trace.Sample{Time: time.Now(), Sample: s}:
	default:
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for s := range p.samples {
		payload, err := json.Marshal(s)
		if err != nil {
			log.Printf("mqtt: json marshal error (pedals): %v", err)
			continue
		}
		if token := p.client.Publish(p.topicPedals, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("mqtt: publish error (%s): %v", p.topicPedals, token.Error())
		}
	}
}

// PublishDetection publishes ev as a retained message.
func (p *Publisher) PublishDetection(ev DetectionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("mqtt: json marshal error (detection): %v", err)
		return
	}
	if token := p.client.Publish(p.topicDetection, 1, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("mqtt: publish error (%s): %v", p.topicDetection, token.Error())
	}
}

// Close drains the queue and disconnects. Callers must stop feeding samples
// first.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.samples)
		<-p.done
		p.client.Disconnect(250)
	})
}
