package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSSinkConfig configures the NATS event sink
type NATSSinkConfig struct {
	URL    string
	Prefix string // subject prefix, default "expflow."
}

// DefaultNATSSinkConfig returns default configuration
func DefaultNATSSinkConfig() NATSSinkConfig {
	return NATSSinkConfig{
		URL:    nats.DefaultURL,
		Prefix: "expflow.",
	}
}

// NATSSink publishes framework events to NATS subjects named after the
// event type, e.g. "expflow.experiment.stopped"
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink connects to NATS with reconnect handling
func NewNATSSink(config NATSSinkConfig) (*NATSSink, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("expflow-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = "expflow."
	}

	log.Info().
		Str("nats_url", config.URL).
		Str("prefix", config.Prefix).
		Msg("NATS event sink initialized")

	return &NATSSink{nc: nc, prefix: config.Prefix}, nil
}

// Publish sends the event to its type's subject
func (s *NATSSink) Publish(ctx context.Context, ev *Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !s.nc.IsConnected() {
		return fmt.Errorf("event sink not connected")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := s.prefix + string(ev.Type)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for one event type (">" for all)
func (s *NATSSink) Subscribe(eventType string, h Handler) (*nats.Subscription, error) {
	subject := s.prefix + eventType
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
			return
		}
		h(&ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Close flushes and closes the connection
func (s *NATSSink) Close() error {
	if err := s.nc.Flush(); err != nil {
		log.Warn().Err(err).Msg("NATS flush failed on close")
	}
	s.nc.Close()
	return nil
}
