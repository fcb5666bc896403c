package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/catalog"
	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const ingestTimeout = 5 * time.Second

// Sink stores received values.
type Sink interface {
	Create(ctx context.Context, in readings.NewReading, source string) (*readings.Accepted, error)
}

// Payload is the body of a reading message. Timestamp defaults to the
// time of receipt.
type Payload struct {
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Subscriber ingests readings published on <prefix>/<sensor_id>/readings
// and on the custom topics bound in the catalog.
type Subscriber struct {
	cfg    config.MQTTConfig
	sink   Sink
	logger *zap.Logger
	client MQTT.Client
	custom map[string]int64
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSubscriber(cfg config.MQTTConfig, bindings []catalog.Binding, sink Sink, logger *zap.Logger) *Subscriber {
	s := &Subscriber{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		custom: make(map[string]int64),
	}
	if s.cfg.TopicPrefix == "" {
		s.cfg.TopicPrefix = "sensors"
	}

	for _, b := range bindings {
		if b.MQTT != nil && b.MQTT.Topic != "" {
			s.custom[b.MQTT.Topic] = b.SensorID
		}
	}
	return s
}

// Topics lists every subscription filter.
func (s *Subscriber) Topics() []string {
	topics := []string{s.cfg.TopicPrefix + "/+/readings"}
	for t := range s.custom {
		topics = append(topics, t)
	}
	return topics
}

// Start connects in the background. The client keeps retrying until the
// broker is reachable and resubscribes after every reconnect.
func (s *Subscriber) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	opts := MQTT.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if psw := s.cfg.Password(); psw != "" {
		opts.SetPassword(psw)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)

	s.client = MQTT.NewClient(opts)
	s.client.Connect()

	s.logger.Info("MQTT subscriber starting",
		zap.String("broker", s.cfg.BrokerURL),
		zap.Strings("topics", s.Topics()))
}

func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.cancel()
	s.client.Disconnect(1000)
	metrics.MQTTConnected.Set(0)
	s.logger.Info("MQTT subscriber stopped")
}

// CheckConnected is a readiness check for the broker connection.
func (s *Subscriber) CheckConnected() healthcheck.Check {
	return func() error {
		if s.client != nil && s.client.IsConnected() {
			return nil
		}
		return fmt.Errorf("not connected to MQTT broker")
	}
}

func (s *Subscriber) onConnect(c MQTT.Client) {
	metrics.MQTTConnected.Set(1)
	s.logger.Info("Connected to MQTT broker", zap.String("broker", s.cfg.BrokerURL))

	filters := make(map[string]byte)
	for _, t := range s.Topics() {
		filters[t] = s.cfg.QoS
	}
	if token := c.SubscribeMultiple(filters, s.handle); token.Wait() && token.Error() != nil {
		s.logger.Error("MQTT subscribe failed", zap.Error(token.Error()))
	}
}

func (s *Subscriber) onConnectionLost(_ MQTT.Client, err error) {
	metrics.MQTTConnected.Set(0)
	s.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (s *Subscriber) handle(_ MQTT.Client, msg MQTT.Message) {
	sensorID, ok := s.sensorForTopic(msg.Topic())
	if !ok {
		s.logger.Debug("Ignoring MQTT message on unknown topic", zap.String("topic", msg.Topic()))
		return
	}

	in, err := ParsePayload(msg.Payload(), time.Now().UTC())
	if err != nil {
		s.logger.Warn("Invalid MQTT reading",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	in.SensorID = sensorID

	ctx, cancel := context.WithTimeout(s.ctx, ingestTimeout)
	defer cancel()

	if _, err := s.sink.Create(ctx, in, readings.SourceMQTT); err != nil {
		s.logger.Warn("MQTT reading rejected",
			zap.String("topic", msg.Topic()),
			zap.Int64("sensor_id", sensorID),
			zap.Error(err))
	}
}

// sensorForTopic resolves custom bindings first, then the default layout.
func (s *Subscriber) sensorForTopic(topic string) (int64, bool) {
	if id, ok := s.custom[topic]; ok {
		return id, true
	}

	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != s.cfg.TopicPrefix || parts[2] != "readings" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParsePayload decodes a reading message body. A bare JSON number is
// accepted as the value.
func ParsePayload(data []byte, now time.Time) (readings.NewReading, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		var v float64
		if numErr := json.Unmarshal(data, &v); numErr != nil {
			return readings.NewReading{}, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		p.Value = &v
	}
	if p.Value == nil {
		return readings.NewReading{}, fmt.Errorf("%w: value is required", types.ErrInvalidInput)
	}

	in := readings.NewReading{Value: *p.Value, Timestamp: now}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		in.Timestamp = p.Timestamp.UTC()
	}
	return in, nil
}
