package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)

	assert.Equal(t, ctx, WithTx(ctx, nil), "nil tx leaves context untouched")

	txCtx := WithTx(ctx, &sql.Tx{})
	_, ok = From(txCtx)
	assert.True(t, ok)

	_, ok = From(Detach(txCtx))
	assert.False(t, ok, "detached context must not expose the transaction")
}
