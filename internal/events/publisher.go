package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stormwaterwatch/sww-backend/internal/config"
)

// ViolationDetected is published whenever recompute creates or refreshes a
// violation event.
type ViolationDetected struct {
	ViolationID   uuid.UUID `json:"violation_id"`
	FacilityID    uuid.UUID `json:"facility_id"`
	PermitID      string    `json:"permit_id"`
	Pollutant     string    `json:"pollutant"`
	ReportingYear string    `json:"reporting_year"`
	Count         int       `json:"count"`
	MaxRatio      float64   `json:"max_ratio"`
	ImpairedWater bool      `json:"impaired_water"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Publisher fans violation events out to downstream consumers.
type Publisher interface {
	PublishViolations(ctx context.Context, events []ViolationDetected) error
	Close() error
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func NewPublisher(cfg *config.Config, logger *slog.Logger) Publisher {
	if !cfg.EventsEnabled() {
		logger.Info("violation event publishing disabled")
		return Noop{}
	}
	logger.Info("violation event publishing enabled", "topic", cfg.KafkaViolationsTopic, "brokers", cfg.KafkaBrokers)
	return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaViolationsTopic, logger)
}

// KafkaPublisher writes violation events to a Kafka topic keyed by facility.
type KafkaPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) PublishViolations(ctx context.Context, events []ViolationDetected) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := toMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Keying by facility keeps one facility's events ordered within a partition.
func toMessage(event ViolationDetected) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize violation event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.FacilityID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("violation.detected")},
			{Key: "pollutant", Value: []byte(event.Pollutant)},
			{Key: "detected_at", Value: []byte(event.DetectedAt.Format(time.RFC3339))},
		},
	}, nil
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishViolations(context.Context, []ViolationDetected) error { return nil }
func (Noop) Close() error                                                 { return nil }
