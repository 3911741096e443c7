package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

// Sink accepts decoded signals, blocking while the engine's queue is full.
type Sink interface {
	SubmitSignal(ctx context.Context, sig models.Signal) error
}

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader reader
	sink   Sink
	logger *logging.Logger
}

func NewConsumer(brokers []string, topic, groupID string, sink Sink, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return &Consumer{reader: r, sink: sink, logger: logger}
}

// signalMessage is the wire shape of a sensing/AI observation.
type signalMessage struct {
	ParameterKind string    `json:"parameter_kind"`
	ZoneID        string    `json:"zone_id"`
	Value         *float64  `json:"value"`
	ObservedAt    time.Time `json:"observed_at"`
}

func decode(value []byte) (models.Signal, error) {
	var msg signalMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return models.Signal{}, fmt.Errorf("unmarshal message failed: %w", err)
	}
	if msg.Value == nil {
		return models.Signal{}, errors.New("message has no value")
	}
	sig := models.Signal{
		ParameterKind: msg.ParameterKind,
		ZoneID:        msg.ZoneID,
		Value:         *msg.Value,
		ObservedAt:    msg.ObservedAt,
	}
	if err := sig.Validate(); err != nil {
		return models.Signal{}, err
	}
	return sig, nil
}

// Start consumes until ctx is done. Offsets are committed once the engine
// accepted the signal; malformed messages are logged and committed.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(ctx, msg)
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	sig, err := decode(msg.Value)
	if err != nil {
		c.logger.Errorf("Invalid message at offset %d: %v", msg.Offset, err)
	} else if err := c.sink.SubmitSignal(ctx, sig); err != nil {
		// Not committed: the message is redelivered after a restart.
		c.logger.Errorf("Signal %s not accepted: %v", sig.Key(), err)
		return
	} else {
		c.logger.Debugf("Processed Kafka message: %s=%v", sig.Key(), sig.Value)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
