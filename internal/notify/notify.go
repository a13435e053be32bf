// Package notify carries state-change notifications out of the ledger's
// transaction path. Delivery is a fire-and-forget collaborator call: a
// failed or slow notifier never rolls back or delays a ledger commit.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	TypeLoanRequestCreated = "loan_request_created"
	TypeLoanApproved       = "loan_approved"
	TypeLoanRejected       = "loan_rejected"
	TypeLoanVoteTied       = "loan_vote_tied"
)

type Notification struct {
	MemberID      string
	Title         string
	Message       string
	Type          string
	GroupID       string
	LoanRequestID int64
}

// Notifier delivers one notification. The real delivery channel lives
// outside this module.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It stands in
// for the real delivery channel in development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("notification",
		slog.String("type", n.Type),
		slog.String("member_id", n.MemberID),
		slog.String("title", n.Title),
		slog.String("group_id", n.GroupID),
		slog.Int64("loan_request_id", n.LoanRequestID),
	)
	return nil
}

// Dispatcher queues notifications on a buffered channel drained by a
// single worker. Enqueue never blocks: a full buffer drops the
// notification and counts it.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	queue    chan Notification
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

func NewDispatcher(notifier Notifier, logger *slog.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		queue:    make(chan Notification, buffer),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker. The worker drains the queue until
// Stop closes it or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-d.queue:
				if !ok {
					return
				}
				if err := d.notifier.Notify(ctx, n); err != nil {
					d.logger.Warn("notification delivery failed",
						slog.String("type", n.Type),
						slog.String("member_id", n.MemberID),
						slog.Any("error", err),
					)
				}
			}
		}
	}()
}

func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification dropped",
			slog.String("type", n.Type),
			slog.String("member_id", n.MemberID),
		)
	}
}

// Stop closes the queue and waits for the worker to drain it. Callers
// must not Enqueue after Stop.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	<-d.done
}

// Dropped reports how many notifications were discarded on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}
