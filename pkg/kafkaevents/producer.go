package kafkaevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/config"
	"github.com/richxcame/driver-location/pkg/logger"
)

// Point is the wire-level coordinate pair inside a location update message.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ride status values carried on the stream.
const (
	RideStatusOnRide   = "ON_RIDE"
	RideStatusOnPickup = "ON_PICKUP"
	RideStatusIdle     = "IDLE"
)

// LocationUpdate is the JSON payload published per accepted GPS point.
// Field names follow the consumer contract exactly.
type LocationUpdate struct {
	RideID       string    `json:"rId,omitempty"`
	MerchantID   string    `json:"mId"`
	Pt           Point     `json:"pt"`
	TS           time.Time `json:"ts"`
	ST           time.Time `json:"st"`
	Acc          *float64  `json:"acc,omitempty"`
	RideStatus   string    `json:"rideStatus"`
	DriverActive bool      `json:"da"`
	Mode         string    `json:"mode,omitempty"`
}

// RegionChange is published when a driver's serviceability region changes
// between consecutive updates.
type RegionChange struct {
	DriverID   string    `json:"driverId"`
	MerchantID string    `json:"mId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

// publishTimeout bounds each best-effort write; failures are logged, never
// surfaced to the caller's request.
const publishTimeout = time.Second

// Producer publishes location telemetry. Writes are asynchronous and
// best-effort: the writer batches in the background and completion errors
// are logged through the completion hook.
type Producer struct {
	writer            *kafka.Writer
	locationTopic     string
	regionChangeTopic string
}

// NewProducer builds a producer for the configured brokers. The writer is
// shared across topics; each message carries its own topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		Compression:            kafka.Lz4,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           publishTimeout,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed",
					zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &Producer{
		writer:            w,
		locationTopic:     cfg.Topic,
		regionChangeTopic: cfg.RegionChangeTopic,
	}
}

// PublishLocationUpdate streams one accepted point, keyed by driver ID so a
// driver's updates stay ordered within a partition.
func (p *Producer) PublishLocationUpdate(ctx context.Context, driverID string, update LocationUpdate) error {
	return p.publish(ctx, p.locationTopic, driverID, update)
}

// PublishRegionChange emits an informational region-transition event.
func (p *Producer) PublishRegionChange(ctx context.Context, driverID string, ev RegionChange) error {
	if p.regionChangeTopic == "" {
		return nil
	}
	return p.publish(ctx, p.regionChangeTopic, driverID, ev)
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafkaevents: marshal %s payload: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		logger.WarnContext(ctx, "kafka publish failed",
			zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("kafkaevents: publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
