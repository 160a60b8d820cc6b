package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessage(t *testing.T) {
	facilityID := uuid.New()
	detected := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	event := ViolationDetected{
		ViolationID:   uuid.New(),
		FacilityID:    facilityID,
		PermitID:      "2 38I000123",
		Pollutant:     "ZINC",
		ReportingYear: "2024-2025",
		Count:         3,
		MaxRatio:      4.2,
		DetectedAt:    detected,
	}

	msg, err := toMessage(event)
	require.NoError(t, err)

	assert.Equal(t, facilityID.String(), string(msg.Key))

	var decoded ViolationDetected
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "violation.detected", headers["event_type"])
	assert.Equal(t, "ZINC", headers["pollutant"])
	assert.Equal(t, "2025-03-01T12:00:00Z", headers["detected_at"])
}

func TestNewPublisher_DisabledWithoutBrokers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := NewPublisher(&config.Config{KafkaViolationsTopic: "violations"}, logger)

	_, ok := p.(Noop)
	assert.True(t, ok)
	assert.NoError(t, p.PublishViolations(context.Background(), []ViolationDetected{{}}))
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_EmptyBatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewKafkaPublisher([]string{"localhost:9092"}, "violations", logger)
	defer p.Close()

	assert.NoError(t, p.PublishViolations(context.Background(), nil))
}
