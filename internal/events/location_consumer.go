package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"go.uber.org/zap"
)

// LocationSink receives the driver feed decoded from the location topic.
type LocationSink interface {
	UpdateLocation(ctx context.Context, driverID uuid.UUID, position geo.Coordinate) error
	SetAvailability(ctx context.Context, driverID uuid.UUID, available bool) error
}

// LocationEventConsumer listens to the driver location topic and feeds
// position and availability updates into the matching pipeline.
type LocationEventConsumer struct {
	consumer *Consumer
	sink     LocationSink
	logger   *zap.Logger
}

// NewLocationEventConsumer creates a new LocationEventConsumer.
func NewLocationEventConsumer(
	brokers []string,
	groupID string,
	sink LocationSink,
	logger *zap.Logger,
) *LocationEventConsumer {
	consumer := NewConsumer(brokers, groupID, TopicDriverLocation, logger)
	return &LocationEventConsumer{
		consumer: consumer,
		sink:     sink,
		logger:   logger,
	}
}

// Start begins consuming location events. This blocks until the context is
// cancelled.
func (c *LocationEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *LocationEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *LocationEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	var cloudEvent CloudEvent
	if err := json.Unmarshal(msg.Value, &cloudEvent); err != nil {
		c.logger.Error("failed to parse cloud event from location topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case DriverLocationUpdated:
		return c.handleLocationUpdated(ctx, cloudEvent)
	case DriverAvailabilityChanged:
		return c.handleAvailabilityChanged(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled location event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *LocationEventConsumer) handleLocationUpdated(ctx context.Context, cloudEvent CloudEvent) error {
	var evt DriverLocationUpdatedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse DriverLocationUpdatedEvent data", zap.Error(err))
		return nil // Don't retry malformed data
	}

	if err := c.sink.UpdateLocation(ctx, evt.DriverID, evt.Location); err != nil {
		c.logger.Error("failed to apply location update",
			zap.String("driver_id", evt.DriverID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *LocationEventConsumer) handleAvailabilityChanged(ctx context.Context, cloudEvent CloudEvent) error {
	var evt DriverAvailabilityChangedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse DriverAvailabilityChangedEvent data", zap.Error(err))
		return nil // Don't retry malformed data
	}

	if err := c.sink.SetAvailability(ctx, evt.DriverID, evt.Available); err != nil {
		c.logger.Error("failed to apply availability change",
			zap.String("driver_id", evt.DriverID.String()),
			zap.Error(err),
		)
		// Unknown drivers are not retriable; they must report a location first.
		return nil
	}
	return nil
}
