package mysql

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/tessera/dialect"
)

// Builder translates query options into MySQL statements and positional
// parameters. It performs no I/O and is safe for concurrent use.
type Builder struct{}

// NewBuilder returns a MySQL statement builder.
func NewBuilder() *Builder { return &Builder{} }

var errNoTable = errors.New("mysql: table name is required")

// Create builds an INSERT statement. The assignment list uses the SET form,
// one placeholder per column in sorted column order.
func (b *Builder) Create(data map[string]any, opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	if len(data) == 0 {
		return "", nil, errors.New("mysql: no data to insert")
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(data))
	)
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.EscapeID(opts.Table))
	sb.WriteString(" SET ")
	for i, k := range slices.Sorted(maps.Keys(data)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.EscapeID(k))
		sb.WriteString(" = ?")
		args = append(args, data[k])
	}
	return sb.String(), args, nil
}

// Find builds a SELECT statement.
func (b *Builder) Find(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	joins, err := b.Joins(opts)
	if err != nil {
		return "", nil, err
	}
	where, args, err := b.Where(opts)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if opts.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(b.selectList(opts))
	sb.WriteString(" FROM ")
	sb.WriteString(b.EscapeID(opts.Table))
	appendClause(&sb, joins)
	appendClause(&sb, where)
	if group := b.fieldList(opts, opts.GroupBy); group != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(group)
	}
	if order := b.fieldList(opts, opts.OrderBy); order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d,%d", max(opts.Offset, 0), opts.Limit)
	}
	return sb.String(), args, nil
}

// Update builds an UPDATE statement. Values of type dialect.Arith adjust the
// stored column value instead of overwriting it.
func (b *Builder) Update(data map[string]any, opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	if len(data) == 0 {
		return "", nil, errors.New("mysql: no data to update")
	}
	if len(opts.Joins) > 0 && opts.Limit > 0 {
		return "", nil, errors.New("mysql: LIMIT is not supported in multiple-table UPDATE")
	}
	joins, err := b.Joins(opts)
	if err != nil {
		return "", nil, err
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(data))
	)
	sb.WriteString("UPDATE ")
	sb.WriteString(b.EscapeID(opts.Table))
	appendClause(&sb, joins)
	sb.WriteString(" SET ")
	for i, k := range slices.Sorted(maps.Keys(data)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		col := b.EscapeID(b.qualify(opts, k))
		sb.WriteString(col)
		sb.WriteString(" = ")
		switch v := data[k].(type) {
		case dialect.Arith:
			if v.Op != "+" && v.Op != "-" {
				return "", nil, fmt.Errorf("mysql: invalid arithmetic operator %q for %q", v.Op, k)
			}
			sb.WriteString(col)
			sb.WriteString(" " + v.Op + " ?")
			args = append(args, v.By)
		default:
			sb.WriteString("?")
			args = append(args, v)
		}
	}
	where, wargs, err := b.Where(opts)
	if err != nil {
		return "", nil, err
	}
	appendClause(&sb, where)
	args = append(args, wargs...)
	b.appendOrderLimit(&sb, opts)
	return sb.String(), args, nil
}

// Destroy builds a DELETE statement. With joins it uses the multiple-table
// form, which deletes from the main table only.
func (b *Builder) Destroy(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	if len(opts.Joins) > 0 && opts.Limit > 0 {
		return "", nil, errors.New("mysql: LIMIT is not supported in multiple-table DELETE")
	}
	joins, err := b.Joins(opts)
	if err != nil {
		return "", nil, err
	}
	where, args, err := b.Where(opts)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	table := b.EscapeID(opts.Table)
	if joins != "" {
		sb.WriteString("DELETE " + table + " FROM " + table + " " + joins)
	} else {
		sb.WriteString("DELETE FROM " + table)
	}
	appendClause(&sb, where)
	b.appendOrderLimit(&sb, opts)
	return sb.String(), args, nil
}

// Count builds a SELECT COUNT(*) statement. When a GROUP BY is present the
// grouped select is wrapped, so the result is the number of groups.
func (b *Builder) Count(opts *dialect.Options) (string, []any, error) {
	if opts == nil || opts.Table == "" {
		return "", nil, errNoTable
	}
	joins, err := b.Joins(opts)
	if err != nil {
		return "", nil, err
	}
	where, args, err := b.Where(opts)
	if err != nil {
		return "", nil, err
	}
	var from strings.Builder
	from.WriteString(" FROM ")
	from.WriteString(b.EscapeID(opts.Table))
	appendClause(&from, joins)
	appendClause(&from, where)
	group := b.fieldList(opts, opts.GroupBy)
	if group == "" {
		return "SELECT COUNT(*) AS `count`" + from.String(), args, nil
	}
	return "SELECT COUNT(*) AS `count` FROM (SELECT 1" + from.String() + " GROUP BY " + group + ") AS `groups`", args, nil
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

// conds renders a condition list. Nested lists are wrapped in parentheses.
func (b *Builder) conds(opts *dialect.Options, w dialect.Where) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
		n    int
	)
	add := func(typ, expr string) {
		if n > 0 {
			sb.WriteString(" " + typ + " ")
		}
		sb.WriteString(expr)
		n++
	}
	for _, c := range w {
		typ, err := condType(c.Type)
		if err != nil {
			return "", nil, err
		}
		if g, ok := c.Value.(dialect.Where); ok {
			if len(g) == 0 {
				return "", nil, errors.New("mysql: empty where group")
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
			return "", nil, errors.New("mysql: where condition without field")
		}
		col := b.EscapeID(b.qualify(opts, c.Field))
		ops, ok := c.Value.(dialect.Ops)
		if !ok {
			expr, vals, err := b.compare(col, "eq", c.Value)
			if err != nil {
				return "", nil, err
			}
			add(typ, expr)
			args = append(args, vals...)
			continue
		}
		if len(ops) == 0 {
			return "", nil, fmt.Errorf("mysql: empty operator set for %q", c.Field)
		}
		for op := range ops {
			if !slices.Contains(dialect.OperatorOrder, op) {
				return "", nil, fmt.Errorf("mysql: invalid where operator %q", op)
			}
		}
		for _, op := range dialect.OperatorOrder {
			v, ok := ops[op]
			if !ok {
				continue
			}
			expr, vals, err := b.compare(col, op, v)
			if err != nil {
				return "", nil, err
			}
			add(typ, expr)
			args = append(args, vals...)
		}
	}
	return sb.String(), args, nil
}

var comparators = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

func (b *Builder) compare(col, op string, v any) (string, []any, error) {
	list, isList := asList(v)
	switch {
	case op == "in" || op == "not_in" || (isList && (op == "eq" || op == "ne")):
		if !isList {
			list = []any{v}
		}
		if len(list) == 0 {
			return "", nil, fmt.Errorf("mysql: empty value list for %s", col)
		}
		kw := " IN ("
		if op == "not_in" || op == "ne" {
			kw = " NOT IN ("
		}
		return col + kw + placeholders(len(list)) + ")", list, nil
	case v == nil && op == "eq":
		return col + " IS NULL", nil, nil
	case v == nil && op == "ne":
		return col + " IS NOT NULL", nil, nil
	case v == nil:
		return "", nil, fmt.Errorf("mysql: NULL operand for operator %q", op)
	}
	return col + " " + comparators[op] + " ?", []any{v}, nil
}

// Joins builds the JOIN clauses of opts.
func (b *Builder) Joins(opts *dialect.Options) (string, error) {
	if opts == nil || len(opts.Joins) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(opts.Joins))
	for _, j := range opts.Joins {
		if j.Table == "" {
			return "", errors.New("mysql: join table is required")
		}
		if len(j.On) != 2 || j.On[0] == "" || j.On[1] == "" {
			return "", fmt.Errorf("mysql: join %q requires an on pair", j.Table)
		}
		kw := "JOIN"
		switch t := strings.ToLower(j.Type); t {
		case "":
		case "left", "right", "inner", "outer":
			kw = strings.ToUpper(t) + " JOIN"
		default:
			return "", fmt.Errorf("mysql: invalid join type %q", j.Type)
		}
		left, right := j.On[0], j.On[1]
		if !strings.Contains(left, ".") {
			left = opts.Table + "." + left
		}
		if !strings.Contains(right, ".") {
			right = j.Alias() + "." + right
		}
		table := b.EscapeID(j.Table)
		if j.As != "" {
			table += " AS " + b.EscapeID(j.As)
		}
		parts = append(parts, kw+" "+table+" ON "+b.EscapeID(left)+" = "+b.EscapeID(right))
	}
	return strings.Join(parts, " "), nil
}

// ResultData shapes one raw row. Without joins the columns map to the top
// level. With joins and no explicit select list, counts holds the number of
// columns of the main table followed by each joined table; the columns are
// split positionally and the joined ones nested under the join alias.
func (b *Builder) ResultData(opts *dialect.Options, columns []string, values []any, counts []int) dialect.Row {
	row := make(dialect.Row, len(columns))
	if opts == nil || len(opts.Joins) == 0 || len(opts.Select) > 0 || !splittable(counts, len(opts.Joins)+1, len(columns)) {
		for i, c := range columns {
			row[c] = values[i]
		}
		return row
	}
	pos := 0
	for i := 0; i < counts[0]; i, pos = i+1, pos+1 {
		row[columns[pos]] = values[pos]
	}
	for k, j := range opts.Joins {
		nested := make(dialect.Row, counts[k+1])
		for i := 0; i < counts[k+1]; i, pos = i+1, pos+1 {
			nested[columns[pos]] = values[pos]
		}
		row[j.Alias()] = nested
	}
	return row
}

func splittable(counts []int, tables, columns int) bool {
	if len(counts) != tables {
		return false
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total == columns
}

// EscapeID quotes an identifier. Each dot separated segment is quoted on its
// own and embedded backticks are doubled. A "*" segment is left bare.
func (b *Builder) EscapeID(id string) string {
	segs := strings.Split(id, ".")
	for i, s := range segs {
		if s != "*" {
			segs[i] = "`" + strings.ReplaceAll(s, "`", "``") + "`"
		}
	}
	return strings.Join(segs, ".")
}

// Escape renders v as a MySQL literal.
func (b *Builder) Escape(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return quote(v)
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	case time.Time:
		return "'" + v.Format("2006-01-02 15:04:05.000") + "'"
	case dialect.Arith:
		return b.Escape(v.By)
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return "NULL"
		}
		return b.Escape(dv)
	case fmt.Stringer:
		return quote(v.String())
	}
	if list, ok := asList(v); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = b.Escape(e)
		}
		return strings.Join(parts, ", ")
	}
	return quote(fmt.Sprint(v))
}

var quoter = strings.NewReplacer(
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"\b", `\b`,
	"\t", `\t`,
	"\x1a", `\Z`,
	`"`, `\"`,
	`'`, `\'`,
	`\`, `\\`,
)

func quote(s string) string { return "'" + quoter.Replace(s) + "'" }

// Interpolate replaces the placeholders of query with the escaped args. It
// is only used for logging.
func (b *Builder) Interpolate(query string, args []any) string {
	var (
		sb strings.Builder
		n  int
		q  rune
	)
	for _, r := range query {
		switch {
		case q != 0:
			if r == q {
				q = 0
			}
		case r == '\'' || r == '"' || r == '`':
			q = r
		case r == '?' && n < len(args):
			sb.WriteString(b.Escape(args[n]))
			n++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// qualify prefixes bare field names with the main table when joins exist.
func (b *Builder) qualify(opts *dialect.Options, field string) string {
	if len(opts.Joins) == 0 || strings.Contains(field, ".") {
		return field
	}
	return opts.Table + "." + field
}

func (b *Builder) selectList(opts *dialect.Options) string {
	if len(opts.Select) > 0 {
		exprs := make([]string, len(opts.Select))
		for i, s := range opts.Select {
			if isIdent(s) {
				exprs[i] = b.EscapeID(b.qualify(opts, s))
			} else {
				exprs[i] = s
			}
		}
		return strings.Join(exprs, ", ")
	}
	if len(opts.Joins) == 0 {
		return "*"
	}
	exprs := make([]string, 0, len(opts.Joins)+1)
	exprs = append(exprs, b.EscapeID(opts.Table+".*"))
	for _, j := range opts.Joins {
		exprs = append(exprs, b.EscapeID(j.Alias()+".*"))
	}
	return strings.Join(exprs, ", ")
}

// fieldList renders an ORDER BY or GROUP BY list. Segments are comma
// separated; a direction token is kept only if it is ASC or DESC.
func (b *Builder) fieldList(opts *dialect.Options, s string) string {
	var parts []string
	for seg := range strings.SplitSeq(s, ",") {
		tokens := strings.Fields(seg)
		if len(tokens) == 0 {
			continue
		}
		part := b.EscapeID(b.qualify(opts, tokens[0]))
		if len(tokens) > 1 {
			if dir := strings.ToUpper(tokens[1]); dir == "ASC" || dir == "DESC" {
				part += " " + dir
			}
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func (b *Builder) appendOrderLimit(sb *strings.Builder, opts *dialect.Options) {
	if order := b.fieldList(opts, opts.OrderBy); order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(opts.Limit))
	}
}

func appendClause(sb *strings.Builder, clause string) {
	if clause != "" {
		sb.WriteString(" ")
		sb.WriteString(clause)
	}
}

func condType(t string) (string, error) {
	switch strings.ToLower(t) {
	case "", "and":
		return "AND", nil
	case "or":
		return "OR", nil
	default:
		return "", fmt.Errorf("mysql: invalid where type %q", t)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// asList reports whether v is a slice or array other than a byte slice and
// returns its elements.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if k := rv.Kind(); k != reflect.Slice && k != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && r != '.' && r != '*' && r != '$' &&
			(r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
