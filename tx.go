package tessera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syssam/tessera/dialect"
)

// ErrTxStarted is returned when starting a transaction guard twice.
var ErrTxStarted = errors.New("tessera: transaction already started")

type txState uint8

const (
	txIdle txState = iota
	txActive
	txDone
)

// Tx is a single use transaction guard: Start, then exactly one of Commit
// or Rollback. Every call after that returns ErrTxDone.
type Tx struct {
	client *Client

	mu     sync.Mutex
	state  txState
	tx     dialect.Tx
	tables map[string]struct{}
}

type txKey struct{}

// txFromContext returns the guard of the transaction ctx runs in.
func txFromContext(ctx context.Context) (*Tx, bool) {
	t, ok := ctx.Value(txKey{}).(*Tx)
	return t, ok
}

// touch records a table written inside the transaction. Its cached rows are
// dropped again once the writes are committed.
func (t *Tx) touch(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tables == nil {
		t.tables = make(map[string]struct{})
	}
	t.tables[table] = struct{}{}
}

// Transaction returns a new transaction guard.
func (c *Client) Transaction() *Tx {
	return &Tx{client: c}
}

// Start begins the transaction. Operations issued with the returned
// context run inside it.
func (t *Tx) Start(ctx context.Context) (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txActive:
		return nil, ErrTxStarted
	case txDone:
		return nil, ErrTxDone
	}
	txCtx, tx, err := t.client.driver.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	t.tx = tx
	t.state = txActive
	return context.WithValue(txCtx, txKey{}, t), nil
}

// Commit commits the transaction. Rows cached by readers outside the
// transaction while it was open are dropped for every table it wrote.
func (t *Tx) Commit() error {
	if err := t.finish(dialect.Tx.Commit); err != nil {
		return err
	}
	t.mu.Lock()
	tables := t.tables
	t.tables = nil
	t.mu.Unlock()
	for table := range tables {
		t.client.invalidate(context.Background(), table)
	}
	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	return t.finish(dialect.Tx.Rollback)
}

func (t *Tx) finish(fn func(dialect.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txIdle:
		return ErrTxNotStarted
	case txDone:
		return ErrTxDone
	}
	t.state = txDone
	return fn(t.tx)
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back when fn fails or panics.
//
//	err := client.WithTx(ctx, func(ctx context.Context) error {
//	    _, err := users.Create(ctx, map[string]any{"name": "a8m"})
//	    return err
//	})
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := c.Transaction()
	txCtx, err := tx.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(txCtx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return &RollbackError{Err: err, RollbackErr: rerr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tessera: committing transaction: %w", err)
	}
	return nil
}
