package sqlite

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
)

// Memory is the data source of a private in-memory database.
const Memory = ":memory:"

func init() {
	dialect.Register(dialect.SQLite, func(source string) (dialect.Driver, error) {
		return Open(source)
	})
}

// Driver executes the statements of an SQLite Builder on a database handle.
type Driver struct {
	*sql.Conn
	builder *Builder

	mu      sync.RWMutex
	columns map[string][]string
}

var _ dialect.Driver = (*Driver)(nil)

// NewDriver wraps an open database handle. Type detection of result values
// is enabled with sql.WithTypeDetection.
func NewDriver(db *stdsql.DB, opts ...sql.Option) *Driver {
	conn := sql.NewConn(dialect.SQLite, db, opts...)
	return &Driver{
		Conn:    conn,
		builder: &Builder{DetectTypes: conn.DetectTypes},
		columns: make(map[string][]string),
	}
}

// Open opens the database file at source using modernc.org/sqlite. The
// Memory source, or any DSN with mode=memory, is pinned to one connection,
// since every new connection would see its own empty database.
//
// Times are written in the layout of Builder.Escape unless the source
// sets its own _time_format.
func Open(source string, opts ...sql.Option) (*Driver, error) {
	if source == "" {
		return nil, errors.New("sqlite: empty data source")
	}
	dsn := source
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if source == Memory || strings.Contains(source, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	return NewDriver(db, opts...), nil
}

// Builder returns the statement builder of the driver.
func (d *Driver) Builder() *Builder { return d.builder }

// Create inserts one row and returns its rowid.
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

// Find returns the shaped rows matching opts. Column lists missing from a
// joined select are read with PRAGMA table_info.
func (d *Driver) Find(ctx context.Context, opts *dialect.Options) ([]dialect.Row, error) {
	if opts == nil || opts.Table == "" {
		return nil, errNoTable
	}
	if len(opts.Joins) > 0 && len(opts.Select) == 0 {
		filled, err := d.withColumns(ctx, opts)
		if err != nil {
			return nil, err
		}
		opts = filled
	}
	query, args, err := d.builder.Find(opts)
	if err != nil {
		return nil, err
	}
	d.debug(ctx, opts, query, args)
	recs, err := d.Query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	rows := make([]dialect.Row, 0, len(recs.Values))
	for _, v := range recs.Values {
		rows = append(rows, d.builder.ResultData(opts, recs.Columns, v))
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
	switch v := recs.Values[0][0].(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("sqlite: unexpected count value %T", v)
	}
}

// Escape renders v as an SQLite literal.
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

// withColumns returns a copy of opts with the column list of the main table
// and of every join filled in.
func (d *Driver) withColumns(ctx context.Context, opts *dialect.Options) (*dialect.Options, error) {
	o := *opts
	o.Joins = slices.Clone(opts.Joins)
	if len(o.Columns) == 0 {
		cols, err := d.tableColumns(ctx, o.Table)
		if err != nil {
			return nil, err
		}
		o.Columns = cols
	}
	for i, j := range o.Joins {
		if len(j.Columns) > 0 || j.Table == "" {
			continue
		}
		cols, err := d.tableColumns(ctx, j.Table)
		if err != nil {
			return nil, err
		}
		o.Joins[i].Columns = cols
	}
	return &o, nil
}

func (d *Driver) tableColumns(ctx context.Context, table string) ([]string, error) {
	d.mu.RLock()
	cols, ok := d.columns[table]
	d.mu.RUnlock()
	if ok {
		return cols, nil
	}
	recs, err := d.Query(ctx, "PRAGMA table_info("+d.builder.EscapeID(table)+")", nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns of %q: %w", table, err)
	}
	idx := slices.Index(recs.Columns, "name")
	if idx < 0 {
		return nil, fmt.Errorf("sqlite: columns of %q: missing name column", table)
	}
	cols = make([]string, 0, len(recs.Values))
	for _, v := range recs.Values {
		cols = append(cols, fmt.Sprint(v[idx]))
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("sqlite: table %q does not exist", table)
	}
	d.mu.Lock()
	d.columns[table] = cols
	d.mu.Unlock()
	return cols, nil
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint error.
func IsUniqueViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint error.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY)
}

// IsCheckViolation reports whether err is a CHECK constraint error.
func IsCheckViolation(err error) bool {
	return hasCode(err, sqlite3.SQLITE_CONSTRAINT_CHECK)
}

func hasCode(err error, codes ...int) bool {
	var e *msqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	return slices.Contains(codes, e.Code())
}
