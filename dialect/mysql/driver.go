package mysql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
)

func init() {
	dialect.Register(dialect.MySQL, func(source string) (dialect.Driver, error) {
		return Open(source)
	})
}

// MySQL error numbers for constraint violations.
const (
	errDuplicateEntry     = 1062
	errForeignKeyParent   = 1451 // Cannot delete or update a parent row
	errForeignKeyChild    = 1452 // Cannot add or update a child row
	errNoReferencedRow    = 1216
	errRowIsReferenced    = 1217
	errCheckConstraintVio = 3819
)

// Driver executes the statements of a MySQL Builder on a connection pool.
type Driver struct {
	*sql.Conn
	builder *Builder

	mu      sync.RWMutex
	columns map[string]int // column count per table
}

var _ dialect.Driver = (*Driver)(nil)

// NewDriver wraps an open database handle.
func NewDriver(db *stdsql.DB, opts ...sql.Option) *Driver {
	return &Driver{
		Conn:    sql.NewConn(dialect.MySQL, db, opts...),
		builder: NewBuilder(),
		columns: make(map[string]int),
	}
}

// Open opens a driver from a go-sql-driver/mysql DSN, for example
// "user:pass@tcp(127.0.0.1:3306)/app". Time values are always parsed.
func Open(dsn string, opts ...sql.Option) (*Driver, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	return OpenConfig(cfg, opts...)
}

// OpenConfig opens a driver from a connector configuration.
func OpenConfig(cfg *gomysql.Config, opts ...sql.Option) (*Driver, error) {
	cfg = cfg.Clone()
	cfg.ParseTime = true
	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	return NewDriver(stdsql.OpenDB(connector), opts...), nil
}

// Builder returns the statement builder of the driver.
func (d *Driver) Builder() *Builder { return d.builder }

// Create inserts one row and returns the auto-increment key, or zero when
// the table has none.
func (d *Driver) Create(ctx context.Context, data map[string]any, opts *dialect.Options) (int64, error) {
	query, args, err := d.builder.Create(data, opts)
	if err != nil {
		return 0, err
	}
	d.debug(ctx, opts, query, args)
	res, err := d.Exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Find returns the shaped rows matching opts.
func (d *Driver) Find(ctx context.Context, opts *dialect.Options) ([]dialect.Row, error) {
	query, args, err := d.builder.Find(opts)
	if err != nil {
		return nil, err
	}
	var counts []int
	if len(opts.Joins) > 0 && len(opts.Select) == 0 {
		if counts, err = d.columnCounts(ctx, opts); err != nil {
			return nil, err
		}
	}
	d.debug(ctx, opts, query, args)
	recs, err := d.Query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	rows := make([]dialect.Row, 0, len(recs.Values))
	for _, v := range recs.Values {
		rows = append(rows, d.builder.ResultData(opts, recs.Columns, v, counts))
	}
	return rows, nil
}

// Update returns the number of affected rows.
func (d *Driver) Update(ctx context.Context, data map[string]any, opts *dialect.Options) (int64, error) {
	query, args, err := d.builder.Update(data, opts)
	if err != nil {
		return 0, err
	}
	return d.exec(ctx, opts, query, args)
}

// Destroy returns the number of deleted rows.
func (d *Driver) Destroy(ctx context.Context, opts *dialect.Options) (int64, error) {
	query, args, err := d.builder.Destroy(opts)
	if err != nil {
		return 0, err
	}
	return d.exec(ctx, opts, query, args)
}

// Count returns the number of rows matching opts.
func (d *Driver) Count(ctx context.Context, opts *dialect.Options) (int64, error) {
	query, args, err := d.builder.Count(opts)
	if err != nil {
		return 0, err
	}
	d.debug(ctx, opts, query, args)
	recs, err := d.Query(ctx, query, args)
	if err != nil {
		return 0, err
	}
	if len(recs.Values) == 0 || len(recs.Values[0]) == 0 {
		return 0, nil
	}
	return toInt64(recs.Values[0][0])
}

// Escape renders v as a MySQL literal.
func (d *Driver) Escape(v any) string { return d.builder.Escape(v) }

// EscapeID quotes an identifier.
func (d *Driver) EscapeID(id string) string { return d.builder.EscapeID(id) }

func (d *Driver) exec(ctx context.Context, opts *dialect.Options, query string, args []any) (int64, error) {
	d.debug(ctx, opts, query, args)
	res, err := d.Exec(ctx, query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Driver) debug(ctx context.Context, opts *dialect.Options, query string, args []any) {
	if d.Debugging(opts) {
		d.LogQuery(ctx, d.builder.Interpolate(query, args))
	}
}

// columnCounts returns the number of columns of the main table followed by
// each joined table, as expanded by "t.*" in a joined select.
func (d *Driver) columnCounts(ctx context.Context, opts *dialect.Options) ([]int, error) {
	counts := make([]int, 0, len(opts.Joins)+1)
	for _, table := range append([]string{opts.Table}, joinTables(opts)...) {
		n, err := d.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func (d *Driver) tableColumns(ctx context.Context, table string) (int, error) {
	d.mu.RLock()
	n, ok := d.columns[table]
	d.mu.RUnlock()
	if ok {
		return n, nil
	}
	recs, err := d.Query(ctx, "SHOW COLUMNS FROM "+d.builder.EscapeID(table), nil)
	if err != nil {
		return 0, fmt.Errorf("mysql: columns of %q: %w", table, err)
	}
	d.mu.Lock()
	d.columns[table] = len(recs.Values)
	d.mu.Unlock()
	return len(recs.Values), nil
}

func joinTables(opts *dialect.Options) []string {
	tables := make([]string, len(opts.Joins))
	for i, j := range opts.Joins {
		tables[i] = j.Table
	}
	return tables
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("mysql: unexpected count value %T", v)
	}
}

// IsUniqueViolation reports whether err is a duplicate entry error.
func IsUniqueViolation(err error) bool {
	return hasNumber(err, errDuplicateEntry)
}

// IsForeignKeyViolation reports whether err is a foreign key constraint error.
func IsForeignKeyViolation(err error) bool {
	return hasNumber(err, errForeignKeyParent, errForeignKeyChild, errNoReferencedRow, errRowIsReferenced)
}

// IsCheckViolation reports whether err is a check constraint error.
func IsCheckViolation(err error) bool {
	return hasNumber(err, errCheckConstraintVio)
}

func hasNumber(err error, numbers ...uint16) bool {
	var e *gomysql.MySQLError
	if !errors.As(err, &e) {
		return false
	}
	for _, n := range numbers {
		if e.Number == n {
			return true
		}
	}
	return false
}
