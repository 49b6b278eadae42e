package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/service"
)

const handleTimeout = 10 * time.Second

// Options configures the broker connection
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber feeds device batches published on an MQTT topic into the pipeline
type Subscriber struct {
	client   mqtt.Client
	opts     Options
	ingestor service.Ingestor
	logger   *zap.Logger
}

// NewSubscriber creates a subscriber without connecting
func NewSubscriber(opts Options, ingestor service.Ingestor, logger *zap.Logger) *Subscriber {
	return &Subscriber{opts: opts, ingestor: ingestor, logger: logger.Named("mqtt")}
}

// Start connects to the broker and subscribes to the observation topic
func (s *Subscriber) Start() error {
	co := mqtt.NewClientOptions()
	co.AddBroker(s.opts.Broker)
	co.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		co.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		co.SetPassword(s.opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetOnConnectHandler(func(c mqtt.Client) {
		// subscriptions do not survive a clean-session reconnect
		if token := c.Subscribe(s.opts.Topic, s.opts.QoS, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.Error("Failed to subscribe", zap.String("topic", s.opts.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("Subscribed to observations", zap.String("topic", s.opts.Topic))
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("Broker connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(co)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop unsubscribes and disconnects
func (s *Subscriber) Stop() {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	s.client.Unsubscribe(s.opts.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
		s.logger.Warn("Dropped observation message", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// HandleMessage decodes one payload and runs it through the ingestor
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var raw domain.RawObservation
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("ingest: malformed payload: %w", domain.ErrInvalidInput)
	}

	res, err := s.ingestor.Ingest(ctx, raw)
	if err != nil {
		return fmt.Errorf("ingest: segment %s: %w", raw.SegmentID, err)
	}
	if res.Skipped {
		s.logger.Debug("Observation skipped",
			zap.String("topic", topic),
			zap.String("segment_id", raw.SegmentID),
			zap.String("reason", res.Reason),
		)
	}
	return nil
}
