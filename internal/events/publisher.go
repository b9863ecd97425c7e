package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers checkout events to one sink.
type Publisher interface {
	Publish(ctx context.Context, event CheckoutEvent) error
}

type PublisherFunc func(ctx context.Context, event CheckoutEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event CheckoutEvent) error { return f(ctx, event) }

// Broadcaster pushes messages to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// BroadcastPublisher sends events as JSON to a Broadcaster such as the
// websocket hub.
type BroadcastPublisher struct {
	broadcaster Broadcaster
}

func NewBroadcastPublisher(broadcaster Broadcaster) *BroadcastPublisher {
	return &BroadcastPublisher{broadcaster: broadcaster}
}

func (p *BroadcastPublisher) Publish(ctx context.Context, event CheckoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.broadcaster.Broadcast(data)
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by cart id, so events of one
// cart stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// NewKafkaWriter builds a writer for a comma separated broker list.
func NewKafkaWriter(brokersCSV, topic string) (*kafka.Writer, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		topic = "cart.checkout"
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (p *KafkaPublisher) Publish(ctx context.Context, event CheckoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.CartID, 10)),
		Value: data,
		Time:  at,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// FanoutPublisher forwards every event to each publisher in order, collecting
// errors so all sinks get a chance to receive it.
type FanoutPublisher struct {
	publishers []Publisher
}

func NewFanoutPublisher(publishers ...Publisher) *FanoutPublisher {
	return &FanoutPublisher{publishers: publishers}
}

func (f *FanoutPublisher) Publish(ctx context.Context, event CheckoutEvent) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
