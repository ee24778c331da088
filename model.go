package tessera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
)

// Model is the table level definition shared by all instances of a kind.
// Its structure is fixed by Define; only the hook lists change afterwards.
type Model struct {
	client *Client
	name   string
	table  string

	fields        []*field.Descriptor
	byName        map[string]*field.Descriptor
	primaryKeys   []string
	autoIncrement string
	createdAt     bool
	updatedAt     bool

	mixins     []mixin.Mixin
	noTime     bool
	explicit   []Key
	keys       []Key
	references []Reference
	validators []Validator

	hooksMu sync.RWMutex
	hooks   map[HookType][]Hook
}

// Key is a unique key over one or more fields.
type Key struct {
	Name   string
	Fields []string
	// Msg replaces the default validation message.
	Msg string
}

// Reference is a foreign key: the value of Field must exist in TargetField
// of the model named Model.
type Reference struct {
	Field       string
	Model       string
	TargetField string
	Msg         string
}

// Validator is a custom check over a whole instance. A non-nil error fails
// validation with the error text, keyed by the validator name. Validators
// run concurrently with the other checks and must not modify the instance.
type Validator struct {
	Name string
	Fn   func(ctx context.Context, i *Instance) error
}

// ModelOption configures a model in Define.
type ModelOption func(*Model) error

// Table sets the table name. It defaults to the plural snake case form of
// the model name, e.g. "blog_posts" for "BlogPost".
func Table(name string) ModelOption {
	return func(m *Model) error {
		if name == "" {
			return errors.New("tessera: empty table name")
		}
		m.table = name
		return nil
	}
}

// UniqueKey adds a unique key. An empty name defaults to the lowercase,
// underscore joined field list.
func UniqueKey(name, msg string, fields ...string) ModelOption {
	return func(m *Model) error {
		if len(fields) == 0 {
			return fmt.Errorf("tessera: unique key %q has no fields", name)
		}
		if name == "" {
			name = keyName(fields)
		}
		m.explicit = append(m.explicit, Key{Name: name, Fields: fields, Msg: msg})
		return nil
	}
}

// ForeignKey declares that the values of field must exist in targetField of
// the model named model. The check runs during validation.
func ForeignKey(field, model, targetField, msg string) ModelOption {
	return func(m *Model) error {
		if field == "" || model == "" || targetField == "" {
			return errors.New("tessera: foreign key requires a field, a model and a target field")
		}
		m.references = append(m.references, Reference{Field: field, Model: model, TargetField: targetField, Msg: msg})
		return nil
	}
}

// WithoutTimestamps omits the created_at and updated_at fields that models
// get by default.
func WithoutTimestamps() ModelOption {
	return func(m *Model) error {
		m.noTime = true
		return nil
	}
}

// Mixins adds the fields of the given mixins before the model fields.
func Mixins(ms ...mixin.Mixin) ModelOption {
	return func(m *Model) error {
		m.mixins = append(m.mixins, ms...)
		return nil
	}
}

// InstanceValidator adds a custom instance level validator.
func InstanceValidator(name string, fn func(ctx context.Context, i *Instance) error) ModelOption {
	return func(m *Model) error {
		if name == "" || fn == nil {
			return errors.New("tessera: instance validator requires a name and a function")
		}
		m.validators = append(m.validators, Validator{Name: name, Fn: fn})
		return nil
	}
}

// Hooks registers hooks of the given type.
func Hooks(t HookType, fns ...Hook) ModelOption {
	return func(m *Model) error {
		for _, fn := range fns {
			if err := m.AddHook(t, fn); err != nil {
				return err
			}
		}
		return nil
	}
}

// Define builds a model from its fields and registers it in the client.
//
//	users, err := client.Define("user", []field.Definer{
//	    field.Integer("id").PrimaryKey().AutoIncrement(),
//	    field.String("email").Unique().Validate("isEmail"),
//	})
func (c *Client) Define(name string, fields []field.Definer, opts ...ModelOption) (*Model, error) {
	if name == "" {
		return nil, errors.New("tessera: missing model name")
	}
	m := &Model{
		client: c,
		name:   name,
		byName: make(map[string]*field.Descriptor),
		hooks:  make(map[HookType][]Hook),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("tessera: model %q: %w", name, err)
		}
	}
	if m.table == "" {
		m.table = inflect.Pluralize(inflect.Underscore(name))
	}
	if err := m.setFields(fields); err != nil {
		return nil, fmt.Errorf("tessera: model %q: %w", name, err)
	}
	if err := m.setKeys(); err != nil {
		return nil, fmt.Errorf("tessera: model %q: %w", name, err)
	}
	if err := c.register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) setFields(defs []field.Definer) error {
	add := func(d *field.Descriptor, replace bool) error {
		if err := d.Check(); err != nil {
			return err
		}
		if _, ok := m.byName[d.Name]; ok {
			if !replace {
				return fmt.Errorf("duplicate field %q", d.Name)
			}
			i := slices.IndexFunc(m.fields, func(f *field.Descriptor) bool { return f.Name == d.Name })
			m.fields[i] = d
		} else {
			m.fields = append(m.fields, d)
		}
		m.byName[d.Name] = d
		return nil
	}
	for _, mx := range m.mixins {
		for _, def := range mx.Fields() {
			if err := add(def.Descriptor(), true); err != nil {
				return err
			}
		}
	}
	own := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def == nil {
			return errors.New("nil field")
		}
		d := def.Descriptor()
		if own[d.Name] {
			return fmt.Errorf("duplicate field %q", d.Name)
		}
		own[d.Name] = true
		if err := add(d, true); err != nil {
			return err
		}
	}
	if !m.noTime {
		for _, def := range (mixin.Time{}).Fields() {
			if d := def.Descriptor(); m.byName[d.Name] == nil {
				if err := add(d, false); err != nil {
					return err
				}
			}
		}
	}
	for _, d := range m.fields {
		if d.PrimaryKey.On {
			m.primaryKeys = append(m.primaryKeys, d.Name)
		}
		if d.AutoIncrement.On {
			if m.autoIncrement != "" {
				return fmt.Errorf("fields %q and %q are both auto increment", m.autoIncrement, d.Name)
			}
			m.autoIncrement = d.Name
		}
	}
	if d := m.byName[mixin.CreatedAt]; d != nil && d.Type == field.TypeDate && !d.Array {
		m.createdAt = true
	}
	if d := m.byName[mixin.UpdatedAt]; d != nil && d.Type == field.TypeDate && !d.Array {
		m.updatedAt = true
	}
	return nil
}

// setKeys merges the field level keys with the explicit ones.
func (m *Model) setKeys() error {
	seen := make(map[string]int)
	push := func(k Key) {
		if i, ok := seen[k.Name]; ok {
			if m.keys[i].Msg == "" {
				m.keys[i].Msg = k.Msg
			}
			return
		}
		seen[k.Name] = len(m.keys)
		m.keys = append(m.keys, k)
	}
	if len(m.primaryKeys) > 0 {
		k := Key{Name: keyName(m.primaryKeys), Fields: m.primaryKeys}
		for _, name := range m.primaryKeys {
			if msg := m.byName[name].PrimaryKey.Msg; msg != "" {
				k.Msg = msg
				break
			}
		}
		push(k)
	}
	for _, d := range m.fields {
		if d.Unique.On {
			push(Key{Name: keyName([]string{d.Name}), Fields: []string{d.Name}, Msg: d.Unique.Msg})
		}
	}
	for _, k := range m.explicit {
		for _, f := range k.Fields {
			if m.byName[f] == nil {
				return fmt.Errorf("unique key %q: unknown field %q", k.Name, f)
			}
		}
		push(k)
	}
	for _, r := range m.references {
		if m.byName[r.Field] == nil {
			return fmt.Errorf("foreign key: unknown field %q", r.Field)
		}
	}
	return nil
}

func keyName(fields []string) string {
	return strings.ToLower(strings.Join(fields, "_"))
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Table returns the table name.
func (m *Model) Table() string { return m.table }

// Client returns the client the model is defined in.
func (m *Model) Client() *Client { return m.client }

// Fields returns the field descriptors in definition order.
func (m *Model) Fields() []*field.Descriptor { return slices.Clone(m.fields) }

// Field returns the descriptor of the named field.
func (m *Model) Field(name string) (*field.Descriptor, bool) {
	d, ok := m.byName[name]
	return d, ok
}

// PrimaryKeys returns the names of the primary key fields.
func (m *Model) PrimaryKeys() []string { return slices.Clone(m.primaryKeys) }

// UniqueKeys returns every unique key of the model by name: the primary
// key, the unique fields and the keys added with UniqueKey.
func (m *Model) UniqueKeys() map[string]Key {
	keys := make(map[string]Key, len(m.keys))
	for _, k := range m.keys {
		k.Fields = slices.Clone(k.Fields)
		keys[k.Name] = k
	}
	return keys
}

// ForeignKeys returns the foreign keys of the model by field name.
func (m *Model) ForeignKeys() map[string]Reference {
	refs := make(map[string]Reference, len(m.references))
	for _, r := range m.references {
		refs[r.Field] = r
	}
	return refs
}

func (m *Model) columns() []string {
	cols := make([]string, len(m.fields))
	for i, d := range m.fields {
		cols[i] = d.Name
	}
	return cols
}

// Query describes the rows a model operation reads or writes.
type Query struct {
	// Select is an explicit expression list. Empty means all columns.
	Select   []string
	Distinct bool
	Where    dialect.Where
	Include  []Include
	// OrderBy and GroupBy are comma separated field lists.
	OrderBy string
	GroupBy string
	Limit   int
	Offset  int
	Debug   bool
}

// Include joins the table of another model. The joined row is available
// through Instance.Included under As, or the model table name.
type Include struct {
	Model *Model
	As    string
	// On is the [local field, included field] pair. When empty, a foreign
	// key of the model pointing at the included model is used.
	On []string
	// Type is one of left, right, inner or outer. Empty is a plain JOIN.
	Type string
}

func (inc Include) alias() string {
	if inc.As != "" {
		return inc.As
	}
	return inc.Model.table
}

// options translates q into driver options.
func (m *Model) options(q *Query) (*dialect.Options, error) {
	o := &dialect.Options{Table: m.table, Columns: m.columns()}
	if q == nil {
		return o, nil
	}
	o.Select = q.Select
	o.Distinct = q.Distinct
	o.Where = q.Where
	o.OrderBy = q.OrderBy
	o.GroupBy = q.GroupBy
	o.Limit = q.Limit
	o.Offset = q.Offset
	o.Debug = q.Debug
	for _, inc := range q.Include {
		if inc.Model == nil {
			return nil, errors.New("tessera: include without model")
		}
		on := inc.On
		if len(on) == 0 {
			for _, r := range m.references {
				if r.Model == inc.Model.name {
					on = []string{r.Field, r.TargetField}
					break
				}
			}
		}
		if len(on) != 2 {
			return nil, fmt.Errorf("tessera: include %q requires an on field pair", inc.alias())
		}
		o.Joins = append(o.Joins, dialect.Join{
			Table:   inc.Model.table,
			As:      inc.As,
			On:      on,
			Type:    inc.Type,
			Columns: inc.Model.columns(),
		})
	}
	return o, nil
}

// Build returns a new, unsaved instance holding data. Values are cast to
// the types of their fields and keys naming no field are dropped.
func (m *Model) Build(data map[string]any) *Instance {
	known := make(map[string]any, len(data))
	for k, v := range data {
		if m.byName[k] != nil {
			known[k] = v
		}
	}
	return m.newInstance(known, false)
}

// load wraps a driver row as a persisted instance.
func (m *Model) load(row dialect.Row, q *Query) *Instance {
	data := make(map[string]any, len(row))
	var incs map[string]*Instance
	for k, v := range row {
		data[k] = v
	}
	if q != nil {
		for _, inc := range q.Include {
			alias := inc.alias()
			sub, ok := row[alias].(dialect.Row)
			if !ok {
				continue
			}
			delete(data, alias)
			if incs == nil {
				incs = make(map[string]*Instance)
			}
			incs[alias] = inc.Model.load(sub, nil)
		}
	}
	i := m.newInstance(data, true)
	i.included = incs
	return i
}

// FindAll returns the instances matching q.
func (m *Model) FindAll(ctx context.Context, q Query) ([]*Instance, error) {
	o, err := m.options(&q)
	if err != nil {
		return nil, err
	}
	rows, err := m.client.driver.Find(ctx, o)
	if err != nil {
		return nil, NewQueryError(m.name, "find", err)
	}
	insts := make([]*Instance, len(rows))
	for i, row := range rows {
		insts[i] = m.load(row, &q)
	}
	return insts, nil
}

// Find returns one instance. The key is either a Query, of which the first
// match is returned, a map of field values, or the value of the primary
// key. A missing record is a NotFoundError.
func (m *Model) Find(ctx context.Context, key any) (*Instance, error) {
	var q Query
	switch k := key.(type) {
	case Query:
		q = k
	case *Query:
		if k != nil {
			q = *k
		}
	case map[string]any:
		q.Where = m.castWhere(dialect.Eq(k))
	default:
		return m.findByKey(ctx, key)
	}
	q.Limit = 1
	insts, err := m.FindAll(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, NewNotFoundError(m.name)
	}
	return insts[0], nil
}

func (m *Model) findByKey(ctx context.Context, key any) (*Instance, error) {
	if len(m.primaryKeys) != 1 {
		return nil, ErrNoPrimaryKey
	}
	pk := m.byName[m.primaryKeys[0]]
	v := key
	if c, err := pk.Cast(key); err == nil {
		v = c
	}
	// Rows read inside a transaction may never be committed.
	_, inTx := sql.TxFromContext(ctx)
	ck := CacheKey{Table: m.table, Operation: "pk", Key: fmt.Sprint(v)}
	if !inTx {
		if row := m.client.cacheGet(ctx, ck); row != nil {
			return m.load(row, nil), nil
		}
	}
	o, _ := m.options(nil)
	o.Where = dialect.Where{{Field: pk.Name, Value: pk.Value(v)}}
	o.Limit = 1
	rows, err := m.client.driver.Find(ctx, o)
	if err != nil {
		return nil, NewQueryError(m.name, "find", err)
	}
	if len(rows) == 0 {
		return nil, NewNotFoundErrorWithID(m.name, key)
	}
	if !inTx {
		m.client.cacheSet(ctx, ck, rows[0])
	}
	return m.load(rows[0], nil), nil
}

// castWhere casts the literal values of conditions on model fields.
func (m *Model) castWhere(w dialect.Where) dialect.Where {
	for i, c := range w {
		d := m.byName[c.Field]
		if d == nil || d.Array || c.Value == nil {
			continue
		}
		if v, err := d.Cast(c.Value); err == nil {
			w[i].Value = v
		}
	}
	return w
}

// Count returns the number of rows matching q.
func (m *Model) Count(ctx context.Context, q Query) (int64, error) {
	o, err := m.options(&q)
	if err != nil {
		return 0, err
	}
	n, err := m.client.driver.Count(ctx, o)
	if err != nil {
		return 0, NewQueryError(m.name, "count", err)
	}
	return n, nil
}

// OpOption configures a write operation.
type OpOption func(*opConfig)

type opConfig struct {
	skipValidation bool
	direct         bool
	individually   bool
}

func newOpConfig(opts []OpOption) opConfig {
	var cfg opConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SkipValidation saves without filling defaults and without validation.
func SkipValidation() OpOption {
	return func(c *opConfig) { c.skipValidation = true }
}

// Direct makes Model.Update issue one statement instead of saving every
// matching instance.
func Direct() OpOption {
	return func(c *opConfig) { c.direct = true }
}

// Individually makes Model.Destroy destroy every matching instance with its
// hooks instead of issuing one statement.
func Individually() OpOption {
	return func(c *opConfig) { c.individually = true }
}

// Create builds and saves one instance. The instance is returned even when
// saving fails, so callers can inspect it.
func (m *Model) Create(ctx context.Context, data map[string]any, opts ...OpOption) (*Instance, error) {
	i := m.Build(data)
	if err := i.Save(ctx, opts...); err != nil {
		return i, err
	}
	return i, nil
}

// Update sets data on the rows matching q and returns how many were
// updated. By default every matching instance is loaded and saved with its
// hooks and validation. With Direct, one UPDATE statement is issued and the
// driver's affected-row count is returned.
func (m *Model) Update(ctx context.Context, data map[string]any, q Query, opts ...OpOption) (int64, error) {
	cfg := newOpConfig(opts)
	if cfg.direct {
		return m.updateDirect(ctx, data, q)
	}
	insts, err := m.FindAll(ctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, i := range insts {
		i.SetAll(data)
		if err := i.Save(ctx, opts...); err != nil {
			return n, NewMutationError(m.name, "update", err)
		}
		n++
	}
	return n, nil
}

func (m *Model) updateDirect(ctx context.Context, data map[string]any, q Query) (int64, error) {
	payload := make(map[string]any, len(data))
	for name, v := range data {
		d := m.byName[name]
		if d == nil || d.ReadOnly.On {
			continue
		}
		if _, ok := v.(dialect.Arith); ok {
			payload[name] = v
			continue
		}
		if c, err := d.Cast(v); err == nil {
			v = c
		}
		payload[name] = d.Value(v)
	}
	if m.updatedAt && len(payload) > 0 {
		if _, ok := payload[mixin.UpdatedAt]; !ok {
			payload[mixin.UpdatedAt] = m.client.now()
		}
	}
	o, err := m.options(&q)
	if err != nil {
		return 0, err
	}
	o.Offset = 0
	n, err := m.client.driver.Update(ctx, payload, o)
	if err != nil {
		return 0, NewMutationError(m.name, "update", err)
	}
	m.client.invalidate(ctx, m.table)
	return n, nil
}

// Destroy removes the rows matching q and returns how many were removed. By
// default one DELETE statement is issued. With Individually, every matching
// instance is destroyed with its hooks.
func (m *Model) Destroy(ctx context.Context, q Query, opts ...OpOption) (int64, error) {
	cfg := newOpConfig(opts)
	if cfg.individually {
		insts, err := m.FindAll(ctx, q)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, i := range insts {
			if err := i.Destroy(ctx); err != nil {
				return n, NewMutationError(m.name, "destroy", err)
			}
			n++
		}
		return n, nil
	}
	o, err := m.options(&q)
	if err != nil {
		return 0, err
	}
	o.Offset = 0
	n, err := m.client.driver.Destroy(ctx, o)
	if err != nil {
		return 0, NewMutationError(m.name, "destroy", err)
	}
	m.client.invalidate(ctx, m.table)
	return n, nil
}
