package notify

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/metrics"
	"github.com/mmeshcher/warmconnects/internal/orders"
)

const (
	defaultQueueSize = 256
	maxAttempts      = 3
)

// Notifier отправляет уведомления из очереди в отдельной горутине.
// Переполненная очередь и неудачная доставка не влияют на зафиксированные переходы:
// событие логируется и отбрасывается.
type Notifier struct {
	client  *Client
	queue   chan Event
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New создаёт Notifier с очередью на queueSize событий.
func New(client *Client, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:  client,
		queue:   make(chan Event, queueSize),
		logger:  logger,
		metrics: m,
	}
}

// OnTransition ставит событие в очередь, не блокируясь.
func (n *Notifier) OnTransition(_ context.Context, t orders.Transition) {
	ev := Event{
		OrderID:     t.OrderID,
		OrderNumber: t.Number,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		From:        t.Change.From,
		To:          t.Change.To,
		Event:       t.Change.Event,
		ActorID:     t.Change.ActorID,
		At:          t.Change.At,
	}

	select {
	case n.queue <- ev:
	default:
		n.metrics.Notification("dropped")
		n.logger.Warn("notification queue is full, event dropped",
			zap.String("order_id", ev.OrderID.String()),
			zap.String("event", string(ev.Event)),
		)
	}
}

// Run обрабатывает очередь до отмены контекста.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, retryAfter, err := n.client.Send(ctx, ev)
		if err != nil {
			n.metrics.Notification("failed")
			n.logger.Warn("notification delivery failed",
				zap.Error(err),
				zap.String("order_id", ev.OrderID.String()),
				zap.String("event", string(ev.Event)),
			)
			return
		}

		if statusCode != http.StatusTooManyRequests {
			n.metrics.Notification("sent")
			return
		}

		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	n.metrics.Notification("failed")
	n.logger.Warn("notification rate limited, event dropped", zap.String("order_id", ev.OrderID.String()))
}
