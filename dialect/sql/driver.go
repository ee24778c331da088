package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/tessera/dialect"
)

// ErrTxStarted is returned when a transaction is started from a context that
// already carries one.
var ErrTxStarted = errors.New("dialect/sql: cannot start a transaction within a transaction")

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Config holds the settings shared by the SQL drivers.
type Config struct {
	// Logger receives debug and slow query entries. Defaults to slog.Default().
	Logger *slog.Logger
	// Debug logs every statement, not only those with Options.Debug set.
	Debug bool
	// DetectTypes enables best-effort type detection of textual values read
	// back from drivers without native column affinity.
	DetectTypes bool
	// SlowThreshold is the duration above which a statement is counted as slow.
	SlowThreshold time.Duration
	// SlowHook is called for every slow statement.
	SlowHook SlowQueryHook
}

// Option configures a Conn.
type Option func(*Config)

// WithLogger sets the logger used for debug and slow query output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDebug logs the interpolated SQL of every statement.
func WithDebug() Option {
	return func(c *Config) { c.Debug = true }
}

// WithTypeDetection turns on type detection of textual result values.
func WithTypeDetection() Option {
	return func(c *Config) { c.DetectTypes = true }
}

// Conn executes statements against a database handle. When the context
// carries a transaction started by this Conn, statements run inside it.
type Conn struct {
	Config
	db      *sql.DB
	dialect string
	stats   *QueryStats
}

// NewConn wraps db for the given dialect.
func NewConn(dialect string, db *sql.DB, opts ...Option) *Conn {
	c := &Conn{
		Config:  Config{SlowThreshold: 100 * time.Millisecond},
		db:      db,
		dialect: dialect,
		stats:   &QueryStats{},
	}
	for _, opt := range opts {
		opt(&c.Config)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// DB returns the underlying *sql.DB instance.
func (c *Conn) DB() *sql.DB { return c.db }

// Dialect returns the dialect name.
func (c *Conn) Dialect() string { return c.dialect }

// QueryStats returns the statistics collected by this Conn.
func (c *Conn) QueryStats() *QueryStats { return c.stats }

// Close closes the underlying database handle.
func (c *Conn) Close() error { return c.db.Close() }

// Debugging reports whether statements of the given query must be logged.
func (c *Conn) Debugging(opts *dialect.Options) bool {
	return c.Debug || (opts != nil && opts.Debug)
}

// LogQuery writes an interpolated statement to the debug log.
func (c *Conn) LogQuery(ctx context.Context, query string) {
	c.Logger.InfoContext(ctx, "tessera: query", slog.String("dialect", c.dialect), slog.String("sql", query))
}

// txCtxKey is the key used for attaching a transaction to a context.
type txCtxKey struct{}

type ctxTx struct {
	tx   *sql.Tx
	conn *Conn
}

// TxFromContext returns the transaction attached to ctx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	v, ok := ctx.Value(txCtxKey{}).(ctxTx)
	if !ok {
		return nil, false
	}
	return v.tx, true
}

// querier returns the transaction bound to ctx when it belongs to this Conn,
// the database handle otherwise.
func (c *Conn) querier(ctx context.Context) ExecQuerier {
	if v, ok := ctx.Value(txCtxKey{}).(ctxTx); ok && v.conn == c {
		return v.tx
	}
	return c.db
}

// Tx implements dialect.Tx for a database/sql transaction.
type Tx struct {
	*sql.Tx
}

// BeginTx starts a transaction and returns a context bound to it.
func (c *Conn) BeginTx(ctx context.Context) (context.Context, dialect.Tx, error) {
	if v, ok := ctx.Value(txCtxKey{}).(ctxTx); ok && v.conn == c {
		return nil, nil, ErrTxStarted
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return context.WithValue(ctx, txCtxKey{}, ctxTx{tx: tx, conn: c}), &Tx{Tx: tx}, nil
}

// Exec executes a statement that returns no rows. Errors of the database are
// returned as is.
func (c *Conn) Exec(ctx context.Context, query string, args []any) (sql.Result, error) {
	start := time.Now()
	res, err := c.querier(ctx).ExecContext(ctx, query, args...)
	c.record(ctx, &c.stats.TotalExecs, query, args, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Records is a fully read result set.
type Records struct {
	Columns []string
	Values  [][]any
}

// Query executes a statement and reads all of its rows. Byte slices are
// returned as strings, since every textual column reaches the ORM as text.
// Errors of the database are returned as is.
func (c *Conn) Query(ctx context.Context, query string, args []any) (*Records, error) {
	start := time.Now()
	rows, err := c.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		c.record(ctx, &c.stats.TotalQueries, query, args, time.Since(start), err)
		return nil, err
	}
	recs, err := scanAll(rows)
	c.record(ctx, &c.stats.TotalQueries, query, args, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func scanAll(rows *sql.Rows) (_ *Records, rerr error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			rerr = errors.Join(rerr, cerr)
		}
	}()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	recs := &Records{Columns: columns, Values: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		recs.Values = append(recs.Values, values)
	}
	return recs, rows.Err()
}

var _ dialect.Tx = (*Tx)(nil)
