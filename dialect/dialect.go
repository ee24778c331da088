package dialect

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Dialect names.
const (
	MySQL  = "mysql"
	SQLite = "sqlite"
)

// Row is one shaped result row. Columns of the main table are stored at the
// top level; columns of every joined table are nested under the join alias
// (or table name) as a Row of their own.
type Row map[string]any

// Options describes a query in a driver-independent shape. Builders translate
// it into SQL text and positional parameters.
type Options struct {
	// Table is the main table. It is required by every operation.
	Table string
	// Select is an explicit expression list. Empty means all columns.
	Select []string
	// Distinct adds the DISTINCT keyword to find queries.
	Distinct bool
	// Where holds the filter conditions, in order.
	Where Where
	// Joins lists the joined tables.
	Joins []Join
	// OrderBy and GroupBy are comma separated field lists. Each segment may
	// carry an ASC or DESC direction token.
	OrderBy string
	GroupBy string
	// Limit caps the number of rows. Zero means no limit.
	Limit int
	// Offset is only used by find queries.
	Offset int
	// Columns optionally lists the columns of the main table. Drivers that
	// alias joined columns use it instead of asking the database.
	Columns []string
	// Debug logs the interpolated SQL text before it is executed.
	Debug bool
}

// Alias returns the name used to reference the join in clauses and results.
func (j Join) Alias() string {
	if j.As != "" {
		return j.As
	}
	return j.Table
}

// Join describes one joined table.
type Join struct {
	Table string
	// As aliases the joined table. Once set, every clause must reference the
	// alias rather than the table name.
	As string
	// On holds the [left, right] field pair of the join condition. A left
	// field without a dot belongs to the main table, a right field without a
	// dot belongs to the joined table.
	On []string
	// Type is one of left, right, inner or outer. Empty is a plain JOIN.
	Type string
	// Columns optionally lists the columns of the joined table.
	Columns []string
}

// Where is an ordered list of conditions. Each condition is connected to the
// ones before it with its own Type.
type Where []Cond

// Cond is a single condition entry.
type Cond struct {
	Field string
	// Value is a literal, a slice (IN), nil (IS NULL) or Ops. A nested
	// Where is rendered as a parenthesized group and Field is ignored.
	Value any
	// Type is "and" or "or" (case-insensitive). Empty means "and".
	Type string
}

// Ops maps comparison operators to their operands, e.g. {"gt": 1, "lte": 10}.
type Ops map[string]any

// Operator names in the order they are rendered.
var OperatorOrder = []string{"eq", "ne", "gt", "gte", "lt", "lte", "in", "not_in"}

// Eq builds the mapping form of a where clause. Keys are sorted so the
// generated SQL does not depend on map iteration order.
func Eq(m map[string]any) Where {
	w := make(Where, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		w = append(w, Cond{Field: k, Value: m[k]})
	}
	return w
}

// And appends an AND condition.
func (w Where) And(field string, v any) Where {
	return append(w, Cond{Field: field, Value: v, Type: "and"})
}

// Or appends an OR condition.
func (w Where) Or(field string, v any) Where {
	return append(w, Cond{Field: field, Value: v, Type: "or"})
}

// Group appends g as a single parenthesized condition joined with typ.
func (w Where) Group(typ string, g Where) Where {
	return append(w, Cond{Value: g, Type: typ})
}

// Arith is an update directive that adjusts a numeric column relative to its
// stored value instead of overwriting it.
type Arith struct {
	Op string // "+" or "-"
	By any
}

// Increment returns a directive that adds n to the stored column value.
func Increment(n any) Arith { return Arith{Op: "+", By: n} }

// Decrement returns a directive that subtracts n from the stored column value.
func Decrement(n any) Arith { return Arith{Op: "-", By: n} }

// Tx is an open driver transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Driver is the capability every back end implements. Operations issued
// with a context returned by BeginTx run inside that transaction.
type Driver interface {
	// Dialect returns the dialect name.
	Dialect() string
	// Create inserts one row and returns the generated key.
	Create(ctx context.Context, data map[string]any, opts *Options) (int64, error)
	// Find returns the shaped rows. The slice is empty, never nil, when
	// nothing matches.
	Find(ctx context.Context, opts *Options) ([]Row, error)
	// Update returns the number of affected rows.
	Update(ctx context.Context, data map[string]any, opts *Options) (int64, error)
	// Destroy returns the number of affected rows.
	Destroy(ctx context.Context, opts *Options) (int64, error)
	// Count returns the number of matching rows.
	Count(ctx context.Context, opts *Options) (int64, error)
	// Escape renders a value as an SQL literal.
	Escape(v any) string
	// EscapeID quotes an identifier.
	EscapeID(id string) string
	// BeginTx starts a transaction and returns a context bound to it.
	BeginTx(ctx context.Context) (context.Context, Tx, error)
	// Close releases the connection.
	Close() error
}

// Opener opens a Driver from a data source string.
type Opener func(source string) (Driver, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a driver opener available by name. It panics if the name
// is registered twice.
func Register(name string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if open == nil {
		panic("dialect: Register opener is nil")
	}
	if _, dup := openers[name]; dup {
		panic(fmt.Sprintf("dialect: Register called twice for %q", name))
	}
	openers[name] = open
}

// Open opens a driver registered under name.
func Open(name, source string) (Driver, error) {
	openersMu.RLock()
	open, ok := openers[name]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dialect: unknown driver %q (forgotten import?)", name)
	}
	return open(source)
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	return slices.Sorted(maps.Keys(openers))
}
