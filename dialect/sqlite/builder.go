package sqlite

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/tessera/dialect"
)

// aliasSep separates the table and column parts of an aliased column in
// joined selects: `posts`.`id` AS `posts__id`.
const aliasSep = "__"

// Builder translates query options into SQLite statements and positional
// parameters. It performs no I/O.
type Builder struct {
	// DetectTypes converts numeric and date looking strings of result rows
	// into int64, float64 and time.Time values.
	DetectTypes bool
}

// NewBuilder returns an SQLite statement builder.
func NewBuilder() *Builder { return &Builder{} }

var errNoTable = errors.New("sqlite: table name is required")

// Create builds an INSERT statement with one placeholder per column, in
// sorted column order.
func (b *Builder) Create(data map[string]any, opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	if len(data) == 0 {
		return "", nil, errors.New("sqlite: no data to insert")
	}
	keys := slices.Sorted(maps.Keys(data))
	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = b.EscapeID(k)
		args[i] = data[k]
	}
	query := "INSERT INTO " + b.EscapeID(opts.Table) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(keys)) + ")"
	return query, args, nil
}

// Find builds a SELECT statement. Joined selects alias every column as
// table__column, so the main table and every join must have a column list.
func (b *Builder) Find(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	exprs, err := b.selectList(opts)
	if err != nil {
		return "", nil, err
	}
	from, args, err := b.from(opts)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if opts.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(exprs)
	sb.WriteString(from)
	if group := b.fieldList(opts, opts.GroupBy); group != "" {
		sb.WriteString(" GROUP BY " + group)
	}
	if order := b.fieldList(opts, opts.OrderBy); order != "" {
		sb.WriteString(" ORDER BY " + order)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d,%d", max(opts.Offset, 0), opts.Limit)
	}
	return sb.String(), args, nil
}

// Update builds an UPDATE statement. SQLite has no joined or limited UPDATE,
// so those are restricted to the rowids of a sub-select.
func (b *Builder) Update(data map[string]any, opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	if len(data) == 0 {
		return "", nil, errors.New("sqlite: no data to update")
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(data))
	)
	sb.WriteString("UPDATE " + b.EscapeID(opts.Table) + " SET ")
	for i, k := range slices.Sorted(maps.Keys(data)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		col := b.EscapeID(k)
		switch v := data[k].(type) {
		case dialect.Arith:
			if v.Op != "+" && v.Op != "-" {
				return "", nil, fmt.Errorf("sqlite: invalid arithmetic operator %q for %q", v.Op, k)
			}
			sb.WriteString(col + " = " + col + " " + v.Op + " ?")
			args = append(args, v.By)
		default:
			sb.WriteString(col + " = ?")
			args = append(args, v)
		}
	}
	where, wargs, err := b.scope(opts)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" " + where)
	}
	return sb.String(), append(args, wargs...), nil
}

// Destroy builds a DELETE statement. Joined or limited deletes are restricted
// to the rowids of a sub-select.
func (b *Builder) Destroy(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	where, args, err := b.scope(opts)
	if err != nil {
		return "", nil, err
	}
	query := "DELETE FROM " + b.EscapeID(opts.Table)
	if where != "" {
		query += " " + where
	}
	return query, args, nil
}

// Count builds a SELECT COUNT(*) statement. When a GROUP BY is present the
// grouped select is wrapped, so the result is the number of groups.
func (b *Builder) Count(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	from, args, err := b.from(opts)
	if err != nil {
		return "", nil, err
	}
	group := b.fieldList(opts, opts.GroupBy)
	if group == "" {
		return "SELECT COUNT(*) AS `count`" + from, args, nil
	}
	return "SELECT COUNT(*) AS `count` FROM (SELECT 1" + from + " GROUP BY " + group + ") AS `groups`", args, nil
}

// Where builds the WHERE clause of opts. An empty condition list yields an
// empty fragment without the WHERE keyword.
func (b *Builder) Where(opts *dialect.Options) (string, []any, error) {
	if opts == nil || len(opts.Where) == 0 {
		return "", nil, nil
	}
	expr, args, err := b.conds(opts, opts.Where)
	if err != nil {
		return "", nil, err
	}
	return "WHERE " + expr, args, nil
}

// conds renders a condition list. A nested dialect.Where becomes a
// parenthesized group.
func (b *Builder) conds(opts *dialect.Options, w dialect.Where) (string, []any, error) {
	var (
		exprs []string
		args  []any
	)
	add := func(typ, expr string) {
		if len(exprs) > 0 {
			expr = typ + " " + expr
		}
		exprs = append(exprs, expr)
	}
	for _, c := range w {
		var typ string
		switch strings.ToLower(c.Type) {
		case "", "and":
			typ = "AND"
		case "or":
			typ = "OR"
		default:
			return "", nil, fmt.Errorf("sqlite: invalid where type %q", c.Type)
		}
		if g, ok := c.Value.(dialect.Where); ok {
			if len(g) == 0 {
				return "", nil, errors.New("sqlite: empty where group")
			}
			expr, vals, err := b.conds(opts, g)
			if err != nil {
				return "", nil, err
			}
			add(typ, "("+expr+")")
			args = append(args, vals...)
			continue
		}
		if c.Field == "" {
			return "", nil, errors.New("sqlite: where condition without field")
		}
		col := b.EscapeID(b.qualify(opts, c.Field))
		ops, ok := c.Value.(dialect.Ops)
		if !ok {
			ops = dialect.Ops{"eq": c.Value}
		}
		if len(ops) == 0 {
			return "", nil, fmt.Errorf("sqlite: empty operator set for %q", c.Field)
		}
		for op := range ops {
			if _, ok := comparators[op]; !ok {
				return "", nil, fmt.Errorf("sqlite: invalid where operator %q", op)
			}
		}
		for _, op := range dialect.OperatorOrder {
			v, ok := ops[op]
			if !ok {
				continue
			}
			expr, vals, err := compare(col, op, v)
			if err != nil {
				return "", nil, err
			}
			add(typ, expr)
			args = append(args, vals...)
		}
	}
	return strings.Join(exprs, " "), args, nil
}

// comparators holds the supported operators. NOT IN lists are only reachable
// through "ne" with a list operand.
var comparators = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
	"in":  "IN",
}

func compare(col, op string, v any) (string, []any, error) {
	list, isList := toList(v)
	if op == "in" && !isList {
		list, isList = []any{v}, true
	}
	if isList && (op == "eq" || op == "ne" || op == "in") {
		if len(list) == 0 {
			return "", nil, fmt.Errorf("sqlite: empty value list for %s", col)
		}
		if op == "ne" {
			return col + " NOT IN (" + placeholders(len(list)) + ")", list, nil
		}
		return col + " IN (" + placeholders(len(list)) + ")", list, nil
	}
	if v == nil {
		switch op {
		case "eq":
			return col + " IS NULL", nil, nil
		case "ne":
			return col + " IS NOT NULL", nil, nil
		default:
			return "", nil, fmt.Errorf("sqlite: NULL operand for operator %q", op)
		}
	}
	return col + " " + comparators[op] + " ?", []any{v}, nil
}

// Joins builds the JOIN clauses of opts.
func (b *Builder) Joins(opts *dialect.Options) (string, error) {
	if opts == nil || len(opts.Joins) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for i, j := range opts.Joins {
		if j.Table == "" {
			return "", errors.New("sqlite: join table is required")
		}
		if len(j.On) != 2 || j.On[0] == "" || j.On[1] == "" {
			return "", fmt.Errorf("sqlite: join %q requires an on pair", j.Table)
		}
		typ := strings.ToLower(j.Type)
		if typ != "" && typ != "left" && typ != "right" && typ != "inner" && typ != "outer" {
			return "", fmt.Errorf("sqlite: invalid join type %q", j.Type)
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		if typ != "" {
			sb.WriteString(strings.ToUpper(typ) + " ")
		}
		sb.WriteString("JOIN " + b.EscapeID(j.Table))
		if j.As != "" {
			sb.WriteString(" AS " + b.EscapeID(j.As))
		}
		left, right := j.On[0], j.On[1]
		if !strings.Contains(left, ".") {
			left = opts.Table + "." + left
		}
		if !strings.Contains(right, ".") {
			right = j.Alias() + "." + right
		}
		sb.WriteString(" ON " + b.EscapeID(left) + " = " + b.EscapeID(right))
	}
	return sb.String(), nil
}

// ResultData shapes one raw row. Aliased columns of a joined select are
// split back into the main table fields and a nested row per join alias.
func (b *Builder) ResultData(opts *dialect.Options, columns []string, values []any) dialect.Row {
	row := make(dialect.Row, len(columns))
	for i, c := range columns {
		v := values[i]
		if b.DetectTypes {
			v = DetectType(v)
		}
		if opts == nil || len(opts.Joins) == 0 {
			row[c] = v
			continue
		}
		if field, ok := strings.CutPrefix(c, opts.Table+aliasSep); ok {
			row[field] = v
			continue
		}
		nested := false
		for _, j := range opts.Joins {
			field, ok := strings.CutPrefix(c, j.Alias()+aliasSep)
			if !ok {
				continue
			}
			sub, _ := row[j.Alias()].(dialect.Row)
			if sub == nil {
				sub = make(dialect.Row)
				row[j.Alias()] = sub
			}
			sub[field] = v
			nested = true
			break
		}
		if !nested {
			row[c] = v
		}
	}
	return row
}

var (
	intRe   = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
	floatRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)\.[0-9]+$`)
)

// dateLayouts are tried in order when detecting dates.
var dateLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DetectType converts strings that look like integers, floats or dates into
// int64, float64 and time.Time. Other values are returned unchanged.
func DetectType(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	switch {
	case intRe.MatchString(s):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case floatRe.MatchString(s):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case len(s) >= 10 && s[4] == '-' && s[7] == '-':
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return v
}

// EscapeID quotes an identifier. Each dot separated segment is quoted on its
// own and embedded backticks are doubled. A "*" segment is left bare.
func (b *Builder) EscapeID(id string) string {
	segs := strings.Split(id, ".")
	for i, s := range segs {
		if s == "*" {
			continue
		}
		segs[i] = "`" + strings.ReplaceAll(s, "`", "``") + "`"
	}
	return strings.Join(segs, ".")
}

// Escape renders v as an SQLite literal.
func (b *Builder) Escape(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	case time.Time:
		return "'" + v.Format("2006-01-02 15:04:05.999999999-07:00") + "'"
	case dialect.Arith:
		return b.Escape(v.By)
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return "NULL"
		}
		return b.Escape(dv)
	}
	if list, ok := toList(v); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = b.Escape(e)
		}
		return strings.Join(parts, ", ")
	}
	return b.Escape(fmt.Sprint(v))
}

// Interpolate replaces the placeholders of query with the escaped args. It
// is only used for logging.
func (b *Builder) Interpolate(query string, args []any) string {
	var (
		sb    strings.Builder
		n     int
		inStr rune
	)
	for _, r := range query {
		if inStr != 0 {
			if r == inStr {
				inStr = 0
			}
			sb.WriteRune(r)
			continue
		}
		switch r {
		case '\'', '"', '`':
			inStr = r
		case '?':
			if n < len(args) {
				sb.WriteString(b.Escape(args[n]))
				n++
				continue
			}
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// from renders the FROM, JOIN and WHERE part shared by find and count.
func (b *Builder) from(opts *dialect.Options) (string, []any, error) {
	joins, err := b.Joins(opts)
	if err != nil {
		return "", nil, err
	}
	where, args, err := b.Where(opts)
	if err != nil {
		return "", nil, err
	}
	s := " FROM " + b.EscapeID(opts.Table)
	if joins != "" {
		s += " " + joins
	}
	if where != "" {
		s += " " + where
	}
	return s, args, nil
}

// scope renders the WHERE clause of an UPDATE or DELETE. Joins, ORDER BY and
// LIMIT move into a rowid sub-select.
func (b *Builder) scope(opts *dialect.Options) (string, []any, error) {
	if len(opts.Joins) == 0 && opts.Limit == 0 {
		return b.Where(opts)
	}
	from, args, err := b.from(opts)
	if err != nil {
		return "", nil, err
	}
	sub := "SELECT " + b.EscapeID(opts.Table) + ".rowid" + from
	if order := b.fieldList(opts, opts.OrderBy); order != "" {
		sub += " ORDER BY " + order
	}
	if opts.Limit > 0 {
		sub += " LIMIT " + strconv.Itoa(opts.Limit)
	}
	return "WHERE rowid IN (" + sub + ")", args, nil
}

// qualify prefixes bare field names with the main table when joins exist.
func (b *Builder) qualify(opts *dialect.Options, field string) string {
	if len(opts.Joins) > 0 && !strings.Contains(field, ".") {
		return opts.Table + "." + field
	}
	return field
}

func (b *Builder) selectList(opts *dialect.Options) (string, error) {
	if len(opts.Select) > 0 {
		exprs := make([]string, len(opts.Select))
		for i, s := range opts.Select {
			if identRe.MatchString(s) {
				s = b.EscapeID(b.qualify(opts, s))
			}
			exprs[i] = s
		}
		return strings.Join(exprs, ", "), nil
	}
	if len(opts.Joins) == 0 {
		return "*", nil
	}
	if len(opts.Columns) == 0 {
		return "", fmt.Errorf("sqlite: columns of %q are required for joined selects", opts.Table)
	}
	exprs := b.aliased(opts.Table, opts.Columns)
	for _, j := range opts.Joins {
		if len(j.Columns) == 0 {
			return "", fmt.Errorf("sqlite: columns of %q are required for joined selects", j.Table)
		}
		exprs = append(exprs, b.aliased(j.Alias(), j.Columns)...)
	}
	return strings.Join(exprs, ", "), nil
}

func (b *Builder) aliased(table string, columns []string) []string {
	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = b.EscapeID(table+"."+c) + " AS " + b.EscapeID(table+aliasSep+c)
	}
	return exprs
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9_$.*]+$`)

// fieldList renders an ORDER BY or GROUP BY list. Segments are comma
// separated; a direction token is kept only if it is ASC or DESC.
func (b *Builder) fieldList(opts *dialect.Options, s string) string {
	var parts []string
	for _, seg := range strings.Split(s, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		field, dir, _ := strings.Cut(seg, " ")
		field = b.EscapeID(b.qualify(opts, field))
		switch d := strings.ToUpper(strings.TrimSpace(dir)); d {
		case "ASC", "DESC":
			field += " " + d
		}
		parts = append(parts, field)
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = "?"
	}
	return strings.Join(p, ", ")
}

func toList(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}
