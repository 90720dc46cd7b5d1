// Package mqttsink publishes every broadcast reading to an MQTT topic (a
// supplemental sink: SCADA/historian integrations on an industrial floor
// overwhelmingly expect MQTT, so the Broadcaster gets an MQTT subscriber
// alongside the websocket one).
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/reading"
)

// Subscription is the Broadcaster's read side
// (internal/broadcast.Hub.Subscribe satisfies this).
type Subscription func() (<-chan reading.Reading, func())

// Sink publishes readings from a broadcast subscription to one MQTT
// topic prefix: "<prefix>/<device_id>".
type Sink struct {
	client mqtt.Client
	prefix string
	log    *zap.Logger

	unsubscribe func()
	done        chan struct{}
}

// Connect dials brokerURL and returns a ready-to-Run Sink.
func Connect(brokerURL, clientID, prefix string, log *zap.Logger) (*Sink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttsink: connect: %w", token.Error())
	}
	return &Sink{client: client, prefix: prefix, log: log, done: make(chan struct{})}, nil
}

// Run subscribes to sub and publishes every reading until ctx is
// cancelled or Close is called.
func (s *Sink) Run(ctx context.Context, subscribe Subscription) {
	queue, cancel := subscribe()
	s.unsubscribe = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-s.done:
				cancel()
				return
			case r, ok := <-queue:
				if !ok {
					return
				}
				s.publish(r)
			}
		}
	}()
}

func (s *Sink) publish(r reading.Reading) {
	data, err := json.Marshal(r)
	if err != nil {
		s.log.Warn("mqttsink: marshal failed", zap.Error(err))
		return
	}
	topic := fmt.Sprintf("%s/%s", s.prefix, r.DeviceID)
	token := s.client.Publish(topic, 0, false, data)
	if token.Wait() && token.Error() != nil {
		s.log.Warn("mqttsink: publish failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
}

// Close stops the Run goroutine and disconnects from the broker.
func (s *Sink) Close() {
	close(s.done)
	s.client.Disconnect(250)
}
