package tessera

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
)

type state uint8

const (
	stateNew state = iota
	statePersisted
	stateDestroyed
)

// Instance is one row of a model with change tracking. Instances are
// created by Model.Build or read from the database; they are not safe for
// concurrent use.
type Instance struct {
	model    *Model
	data     map[string]any
	synced   map[string]any
	previous map[string]any
	castErrs map[string]error
	included map[string]*Instance
	state    state
	err      error
}

func (m *Model) newInstance(data map[string]any, persisted bool) *Instance {
	i := &Instance{
		model:    m,
		data:     make(map[string]any, len(data)),
		castErrs: make(map[string]error),
	}
	for k, v := range data {
		i.assign(k, v)
	}
	i.synced = make(map[string]any)
	if persisted {
		i.state = statePersisted
		i.synced = snapshot(i.data)
	}
	return i
}

// assign stores v, cast to the type of its field. A value that cannot be
// cast is kept as is and reported by validation.
func (i *Instance) assign(name string, v any) {
	delete(i.castErrs, name)
	d := i.model.byName[name]
	if d == nil {
		i.data[name] = v
		return
	}
	if _, ok := v.(dialect.Arith); ok {
		i.data[name] = v
		return
	}
	c, err := d.Cast(v)
	if err != nil {
		i.data[name] = v
		i.castErrs[name] = err
		return
	}
	i.data[name] = c
}

// snapshot copies data, including the lists it holds.
func snapshot(data map[string]any) map[string]any {
	s := make(map[string]any, len(data))
	for k, v := range data {
		if l, ok := v.([]any); ok {
			v = slices.Clone(l)
		}
		s[k] = v
	}
	return s
}

// Model returns the model of the instance.
func (i *Instance) Model() *Model { return i.model }

// Get returns the current value of a field.
func (i *Instance) Get(name string) any { return i.data[name] }

// Set changes the value of a field. Unknown fields are ignored, and so are
// read-only fields of persisted instances. The value dialect.Increment(n)
// or dialect.Decrement(n) adjusts a number relative to its stored value
// when the instance is saved.
func (i *Instance) Set(name string, v any) *Instance {
	d := i.model.byName[name]
	if d == nil {
		return i
	}
	if d.ReadOnly.On && i.state != stateNew {
		return i
	}
	i.assign(name, v)
	return i
}

// SetAll calls Set for every entry of data.
func (i *Instance) SetAll(data map[string]any) *Instance {
	for _, k := range slices.Sorted(maps.Keys(data)) {
		i.Set(k, data[k])
	}
	return i
}

// Data returns a copy of the current values.
func (i *Instance) Data() map[string]any { return snapshot(i.data) }

// PreviousData returns the values as of the synchronization before the
// last one.
func (i *Instance) PreviousData() map[string]any { return snapshot(i.previous) }

// Original returns the last persisted value of a field, or nil for new
// instances.
func (i *Instance) Original(name string) any { return i.synced[name] }

// Changed reports whether a field differs from its last persisted value.
func (i *Instance) Changed(name string) bool {
	if i.model.byName[name] == nil {
		return false
	}
	return !field.Equal(i.data[name], i.synced[name])
}

// ChangedFields returns the changed fields in definition order.
func (i *Instance) ChangedFields() []string {
	var names []string
	for _, d := range i.model.fields {
		if i.Changed(d.Name) {
			names = append(names, d.Name)
		}
	}
	return names
}

// IsNewRecord reports whether the instance has not been created yet.
func (i *Instance) IsNewRecord() bool { return i.state == stateNew }

// IsDestroyed reports whether the instance has been destroyed.
func (i *Instance) IsDestroyed() bool { return i.state == stateDestroyed }

// Err returns the error of the last failed operation. Hooks of the
// afterFailed events use it to inspect the failure.
func (i *Instance) Err() error { return i.err }

// Included returns the joined instance stored under the include alias.
func (i *Instance) Included(alias string) (*Instance, error) {
	inc, ok := i.included[alias]
	if !ok {
		return nil, NewNotLoadedError(alias)
	}
	return inc, nil
}

// PrimaryKey returns the value of the primary key field, or nil for models
// without a single primary key.
func (i *Instance) PrimaryKey() any {
	if len(i.model.primaryKeys) != 1 {
		return nil
	}
	return i.data[i.model.primaryKeys[0]]
}

// Save validates and then creates or updates the instance. New instances
// get the defaults of their unset fields first. With SkipValidation both
// steps are skipped.
func (i *Instance) Save(ctx context.Context, opts ...OpOption) error {
	if i.state == stateDestroyed {
		return ErrDestroyed
	}
	cfg := newOpConfig(opts)
	if !cfg.skipValidation {
		failed := AfterFailedUpdate
		if i.state == stateNew {
			failed = AfterFailedCreate
			i.fillDefaults()
		}
		if err := i.Validate(ctx); err != nil {
			return i.model.fail(ctx, failed, i, err)
		}
	}
	if i.state == stateNew {
		return i.Create(ctx)
	}
	return i.Update(ctx)
}

func (i *Instance) fillDefaults() {
	for _, d := range i.model.fields {
		if v, ok := i.data[d.Name]; ok && v != nil {
			continue
		}
		if v, ok := d.DefaultValue(); ok {
			i.assign(d.Name, v)
		}
	}
}

// Create inserts a new instance without validating it. The generated key is
// stored in the auto increment field.
func (i *Instance) Create(ctx context.Context) error {
	switch i.state {
	case statePersisted:
		return ErrPersisted
	case stateDestroyed:
		return ErrDestroyed
	}
	m := i.model
	if err := m.runHooks(ctx, BeforeCreate, i); err != nil {
		return m.fail(ctx, AfterFailedCreate, i, err)
	}
	now := m.client.now()
	if m.createdAt {
		i.data[mixin.CreatedAt] = now
	}
	if m.updatedAt {
		i.data[mixin.UpdatedAt] = now
	}
	payload := make(map[string]any, len(i.data))
	for _, d := range m.fields {
		v, ok := i.data[d.Name]
		if !ok || (v == nil && d.AutoIncrement.On) {
			continue
		}
		if _, ok := v.(dialect.Arith); ok {
			return m.fail(ctx, AfterFailedCreate, i, fmt.Errorf("tessera: %s.%s: increment of a new record", m.name, d.Name))
		}
		payload[d.Name] = d.Value(v)
	}
	id, err := m.client.driver.Create(ctx, payload, &dialect.Options{Table: m.table})
	if err != nil {
		return m.fail(ctx, AfterFailedCreate, i, err)
	}
	if m.autoIncrement != "" {
		i.data[m.autoIncrement] = id
	}
	i.sync()
	i.state = statePersisted
	i.err = nil
	m.client.invalidate(ctx, m.table)
	if err := m.runHooks(ctx, AfterCreate, i); err != nil {
		return m.fail(ctx, AfterFailedCreate, i, err)
	}
	return nil
}

// Update writes the changed fields of a persisted instance without
// validating it. Without changes no statement is issued, but the update
// hooks still run. Fields set with dialect.Increment or dialect.Decrement
// are read back after the write.
func (i *Instance) Update(ctx context.Context) error {
	switch i.state {
	case stateNew:
		return ErrNotPersisted
	case stateDestroyed:
		return ErrDestroyed
	}
	m := i.model
	if err := m.runHooks(ctx, BeforeUpdate, i); err != nil {
		return m.fail(ctx, AfterFailedUpdate, i, err)
	}
	where, err := i.keyWhere(i.synced)
	if err != nil {
		return m.fail(ctx, AfterFailedUpdate, i, err)
	}
	changed := i.ChangedFields()
	if len(changed) > 0 {
		if m.updatedAt && !slices.Contains(changed, mixin.UpdatedAt) {
			i.data[mixin.UpdatedAt] = m.client.now()
			changed = append(changed, mixin.UpdatedAt)
		}
		payload := make(map[string]any, len(changed))
		arith := false
		for _, name := range changed {
			v := i.data[name]
			if _, ok := v.(dialect.Arith); ok {
				arith = true
				payload[name] = v
				continue
			}
			payload[name] = m.byName[name].Value(v)
		}
		if _, err := m.client.driver.Update(ctx, payload, &dialect.Options{Table: m.table, Where: where, Limit: 1}); err != nil {
			return m.fail(ctx, AfterFailedUpdate, i, err)
		}
		if arith {
			if err := i.refresh(ctx); err != nil {
				return m.fail(ctx, AfterFailedUpdate, i, err)
			}
		} else {
			i.sync()
		}
		m.client.invalidate(ctx, m.table)
	}
	i.err = nil
	if err := m.runHooks(ctx, AfterUpdate, i); err != nil {
		return m.fail(ctx, AfterFailedUpdate, i, err)
	}
	return nil
}

// Destroy deletes a persisted instance. The instance cannot be written
// afterwards.
func (i *Instance) Destroy(ctx context.Context) error {
	switch i.state {
	case stateNew:
		return ErrNotPersisted
	case stateDestroyed:
		return ErrDestroyed
	}
	m := i.model
	if err := m.runHooks(ctx, BeforeDestroy, i); err != nil {
		return m.fail(ctx, AfterFailedDestroy, i, err)
	}
	where, err := i.keyWhere(i.synced)
	if err != nil {
		return m.fail(ctx, AfterFailedDestroy, i, err)
	}
	if _, err := m.client.driver.Destroy(ctx, &dialect.Options{Table: m.table, Where: where, Limit: 1}); err != nil {
		return m.fail(ctx, AfterFailedDestroy, i, err)
	}
	i.state = stateDestroyed
	i.err = nil
	m.client.invalidate(ctx, m.table)
	if err := m.runHooks(ctx, AfterDestroy, i); err != nil {
		return m.fail(ctx, AfterFailedDestroy, i, err)
	}
	return nil
}

// Reload replaces the values of a persisted instance with the stored row.
func (i *Instance) Reload(ctx context.Context) error {
	switch i.state {
	case stateNew:
		return ErrNotPersisted
	case stateDestroyed:
		return ErrDestroyed
	}
	where, err := i.keyWhere(i.synced)
	if err != nil {
		return err
	}
	return i.read(ctx, where)
}

// refresh reads the row back after an update, addressing it by the primary
// key values just written.
func (i *Instance) refresh(ctx context.Context) error {
	src := i.synced
	for _, name := range i.model.primaryKeys {
		if v := i.data[name]; i.Changed(name) {
			if _, ok := v.(dialect.Arith); !ok {
				src = snapshot(i.synced)
				src[name] = v
			}
		}
	}
	where, err := i.keyWhere(src)
	if err != nil {
		return err
	}
	return i.read(ctx, where)
}

func (i *Instance) read(ctx context.Context, where dialect.Where) error {
	m := i.model
	rows, err := m.client.driver.Find(ctx, &dialect.Options{Table: m.table, Where: where, Limit: 1, Columns: m.columns()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return NewNotFoundError(m.name)
	}
	i.data = make(map[string]any, len(rows[0]))
	clear(i.castErrs)
	for k, v := range rows[0] {
		i.assign(k, v)
	}
	i.sync()
	return nil
}

// sync snapshots the current values as the persisted ones.
func (i *Instance) sync() {
	i.previous = i.synced
	i.synced = snapshot(i.data)
}

// keyWhere addresses the row of the instance by the primary key values of
// src.
func (i *Instance) keyWhere(src map[string]any) (dialect.Where, error) {
	m := i.model
	if len(m.primaryKeys) == 0 {
		return nil, ErrNoPrimaryKey
	}
	where := make(dialect.Where, 0, len(m.primaryKeys))
	for _, name := range m.primaryKeys {
		v := src[name]
		if v == nil {
			return nil, fmt.Errorf("tessera: %s: primary key %q is not set", m.name, name)
		}
		where = append(where, dialect.Cond{Field: name, Value: m.byName[name].Value(v)})
	}
	return where, nil
}
