package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	graphsvc "concytec/internal/graph/service"
	dErrors "concytec/pkg/domain-errors"
	txcontext "concytec/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// PostgresTx scopes a unit of work to one SQL transaction carried in the
// context, so graph writes and outbox rows commit together.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
	seq     atomic.Uint64
}

func NewPostgresTx(db *sql.DB, timeout time.Duration) *PostgresTx {
	return &PostgresTx{db: db, timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, nested := txcontext.From(ctx); nested {
		return fn(ctx)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Savepoint opens a SAVEPOINT in the ambient transaction, or returns nil when
// there is none.
func (t *PostgresTx) Savepoint(ctx context.Context) (graphsvc.Savepoint, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, nil
	}
	name := fmt.Sprintf("graph_unit_%d", t.seq.Add(1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &savepoint{tx: tx, name: name}, nil
}

type savepoint struct {
	tx   *sql.Tx
	name string
}

// RollbackTo also clears the aborted state a failed statement leaves behind.
// A transaction that is already done was rolled back as a whole, which
// discards the savepoint's writes too.
func (p *savepoint) RollbackTo(ctx context.Context) error {
	_, err := p.tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+p.name)
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (p *savepoint) Release(ctx context.Context) error {
	_, err := p.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+p.name)
	return err
}
