package worker

import (
	"context"
	"log/slog"
	"time"

	"concytec/pkg/platform/audit/publishers/kafka"
	"concytec/pkg/platform/audit/store/postgres"

	"github.com/google/uuid"
)

// Outbox is the pending side of the transactional outbox.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Sink receives relayed entries.
type Sink interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// TxRunner scopes one fetch-publish-mark cycle so row locks are held
// until the entries are marked.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Worker relays committed graph events from the outbox to the sink.
// Delivery is at-least-once: a crash between publish and mark replays the batch.
type Worker struct {
	outbox   Outbox
	sink     Sink
	tx       TxRunner
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(outbox Outbox, sink Sink, tx TxRunner, opts ...Option) *Worker {
	w := &Worker{
		outbox:   outbox,
		sink:     sink,
		tx:       tx,
		logger:   slog.Default(),
		interval: time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled. Relay errors are logged and retried
// on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := w.RelayOnce(ctx)
				if err != nil {
					w.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
					break
				}
				if n < w.batch {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries it relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.outbox.FetchPending(ctx, w.batch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(entries))
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, kafka.Message{Key: e.AggregateID, Type: e.EventType, Payload: e.Payload})
			ids = append(ids, e.ID)
		}
		if err := w.sink.Publish(ctx, msgs...); err != nil {
			return err
		}
		if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
			return err
		}
		relayed = len(entries)
		return nil
	})
	return relayed, err
}
