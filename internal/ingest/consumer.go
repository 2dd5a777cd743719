// Package ingest consumes agent position reports from Kafka and feeds them
// into the relay.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
)

// report is the wire form published by route agents: position is a
// [lat, lng] pair.
type report struct {
	RouteID  string    `json:"routeId" validate:"required"`
	ClientID string    `json:"clientId"`
	Position []float64 `json:"position" validate:"required,len=2"`
	Finished bool      `json:"finished"`
}

var (
	errMalformedReport = errors.New("malformed position report")
	validateReport     = validator.New()
)

// Deliverer is the slice of the relay the consumer needs.
type Deliverer interface {
	Deliver(routeID string, position tracking.Position, finished bool) error
}

type Consumer struct {
	reader  *kafka.Reader
	relay   Deliverer
	logger  *logging.Logger
	metrics *metrics.Registry
}

type Options struct {
	Brokers []string
	Topic   string
	GroupID string
	Relay   Deliverer
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

func NewConsumer(opts Options) *Consumer {
	consumer := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: opts.Brokers,
			Topic:   opts.Topic,
			GroupID: opts.GroupID,
		}),
		relay:   opts.Relay,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if consumer.metrics == nil {
		consumer.metrics = metrics.Default
	}
	return consumer
}

// Run consumes until the context is cancelled. Malformed or unroutable
// reports are counted and skipped; only broker failures end the loop.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("ingest: reading message: %w", err)
		}
		c.handle(message)
	}
}

func (c *Consumer) handle(message kafka.Message) {
	update, err := decodeReport(message.Value)
	if err != nil {
		c.metrics.IncMalformedUpdate()
		if c.logger != nil {
			c.logger.Warn("dropping malformed position report", map[string]string{
				"topic": message.Topic,
				"error": err.Error(),
			})
		}
		return
	}

	err = c.relay.Deliver(update.RouteID, update.Position, update.Finished)
	switch {
	case err == nil:
	case errors.Is(err, tracking.ErrNoSuchSession), errors.Is(err, tracking.ErrSessionFinished):
		if c.logger != nil {
			c.logger.Debug("dropping report without active session", map[string]string{
				"route_id": update.RouteID,
				"reason":   err.Error(),
			})
		}
	default:
		if c.logger != nil {
			c.logger.Error("relaying report failed", map[string]string{
				"route_id": update.RouteID,
				"error":    err.Error(),
			})
		}
	}
}

func decodeReport(payload []byte) (tracking.Update, error) {
	var incoming report
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return tracking.Update{}, fmt.Errorf("%w: %v", errMalformedReport, err)
	}
	if err := validateReport.Struct(incoming); err != nil {
		return tracking.Update{}, fmt.Errorf("%w: %v", errMalformedReport, err)
	}
	position := tracking.Position{Lat: incoming.Position[0], Lng: incoming.Position[1]}
	if err := validateReport.Struct(position); err != nil {
		return tracking.Update{}, fmt.Errorf("%w: position out of range", errMalformedReport)
	}
	return tracking.Update{
		RouteID:  incoming.RouteID,
		Position: position,
		Finished: incoming.Finished,
	}, nil
}
