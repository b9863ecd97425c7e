package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"cartsaga/internal/checkout"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Notifier is a saga observer that publishes transitions from a background
// goroutine. Publishing is best-effort: failures are logged and a full
// queue drops events, so a slow sink never stalls a checkout.
type Notifier struct {
	publisher Publisher
	queue     chan CheckoutEvent
	timeout   time.Duration
	logger    logr.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type NotifierOption func(*Notifier)

func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan CheckoutEvent, size)
		}
	}
}

func WithPublishTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func NewNotifier(publisher Publisher, logger logr.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		publisher: publisher,
		queue:     make(chan CheckoutEvent, defaultQueueSize),
		timeout:   defaultPublishTimeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Observe implements checkout.Observer.
func (n *Notifier) Observe(ctx context.Context, t checkout.Transition) {
	event := FromTransition(ctx, t)
	select {
	case <-n.done:
	case n.queue <- event:
	default:
		n.logger.Info("checkout event dropped, queue full", "cart_id", event.CartID, "state", event.State)
	}
}

// Run publishes queued events until ctx ends or Close is called, then drains
// what is already queued.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return
		case <-n.done:
			n.drain()
			return
		case event := <-n.queue:
			n.publish(event)
		}
	}
}

// Close stops accepting events.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.done) })
}

func (n *Notifier) drain() {
	for {
		select {
		case event := <-n.queue:
			n.publish(event)
		default:
			return
		}
	}
}

func (n *Notifier) publish(event CheckoutEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Error(err, "publish checkout event", "cart_id", event.CartID, "workflow_id", event.WorkflowID, "state", event.State)
	}
}
