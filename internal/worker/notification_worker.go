package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/service"
)

// ErrQueueFull is returned when the mail queue cannot accept more messages.
var ErrQueueFull = errors.New("mail queue full")

// MailQueue is a service.Mailer that hands messages to a background
// goroutine, so publishers never wait on delivery.
type MailQueue struct {
	next   service.Mailer
	queue  chan service.Message
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewMailQueue buffers up to size messages in front of next.
func NewMailQueue(next service.Mailer, size int, logger *zap.Logger) *MailQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailQueue{
		next:   next,
		queue:  make(chan service.Message, size),
		logger: logger.Named("mail_queue"),
	}
}

// Send enqueues msg without blocking.
func (q *MailQueue) Send(ctx context.Context, msg service.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case q.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the delivery loop. It stops when ctx is cancelled, after
// flushing whatever is still queued.
func (q *MailQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Wait blocks until the delivery loop has exited.
func (q *MailQueue) Wait() {
	q.wg.Wait()
}

func (q *MailQueue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case msg := <-q.queue:
			q.deliver(ctx, msg)
		case <-ctx.Done():
			q.flush()
			return
		}
	}
}

func (q *MailQueue) flush() {
	ctx := context.Background()
	for {
		select {
		case msg := <-q.queue:
			q.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (q *MailQueue) deliver(ctx context.Context, msg service.Message) {
	if err := q.next.Send(ctx, msg); err != nil {
		q.logger.Warn("email delivery failed",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// StartNotificationWorker registers notification handlers and starts the
// delivery loop behind them.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, queue *MailQueue) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if queue != nil {
		queue.Start(ctx)
	}
}
