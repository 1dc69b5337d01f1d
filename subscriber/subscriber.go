// Package subscriber ingests readings published by gateways over MQTT.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/telemetry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Ingester stores one sample. *telemetry.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, s telemetry.Sample) (telemetry.Ingestion, error)
}

// Subscriber feeds MQTT payloads into an Ingester
type Subscriber struct {
	cfg      config.MQTTConfig
	ingester Ingester
	log      *zap.Logger
}

// New creates a subscriber for cfg.Topic. A nil log discards output.
func New(cfg config.MQTTConfig, ingester Ingester, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, ingester: ingester, log: log.Named("mqtt")}
}

// Run connects to the broker and ingests messages from the configured topic
// until ctx is canceled
func (s *Subscriber) Run(ctx context.Context) error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt broker is not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("connection lost", zap.Error(err))
	})
	// subscribe on every (re)connect, the broker may not keep the session
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.HandleMessage)
		if token.Wait() && token.Error() != nil {
			s.log.Error("subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
			return
		}
		s.log.Info("subscribed", zap.String("topic", s.cfg.Topic), zap.Uint8("qos", s.cfg.QoS))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Broker, token.Error())
	}
	s.log.Info("connected", zap.String("broker", s.cfg.Broker), zap.String("client_id", s.cfg.ClientID))

	<-ctx.Done()

	if token := client.Unsubscribe(s.cfg.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		s.log.Warn("unsubscribe failed", zap.Error(token.Error()))
	}
	client.Disconnect(250)
	s.log.Info("disconnected")
	return nil
}

// HandleMessage ingests one payload. Invalid payloads are logged and dropped.
func (s *Subscriber) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	var report telemetry.Report
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		s.log.Warn("invalid payload", zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()), zap.Error(err))
		return
	}

	sample, err := report.Sample()
	if err != nil {
		s.log.Warn("rejected payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerDuration())
	defer cancel()

	res, err := s.ingester.Ingest(ctx, sample)
	if err != nil {
		s.log.Error("ingest failed",
			zap.String("topic", msg.Topic()),
			zap.String("sensor_device_mac", sample.SensorDeviceMAC),
			zap.Error(err))
		return
	}
	s.log.Debug("reading stored", zap.Uint("reading_id", res.ReadingID), zap.Uint("sensor_id", res.SensorID))
}
