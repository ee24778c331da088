package tessera

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/sql"
	"github.com/syssam/tessera/validate"
)

// Validate runs the beforeValidate hooks, then checks fields, custom
// validators, unique keys and foreign keys concurrently. Failed checks are
// returned together as ValidationErrors after the afterFailedValidate
// hooks; otherwise the afterValidate hooks run.
//
// Unique and foreign keys are only checked on persisted instances when one
// of their fields changed.
func (i *Instance) Validate(ctx context.Context) error {
	m := i.model
	if err := m.runHooks(ctx, BeforeValidate, i); err != nil {
		return m.fail(ctx, AfterFailedValidate, i, err)
	}
	var (
		fields   = ValidationErrors{}
		custom   = ValidationErrors{}
		unique   = ValidationErrors{}
		foreign  = ValidationErrors{}
		g, gctx  = errgroup.WithContext(ctx)
		_, inTx  = sql.TxFromContext(ctx)
		registry = m.client.validator
	)
	// Statements of one transaction share a connection.
	if inTx {
		g.SetLimit(1)
	}
	g.Go(func() error { return i.validateFields(registry, fields) })
	g.Go(func() error { return i.validateCustom(gctx, custom) })
	g.Go(func() error { return i.validateUnique(gctx, registry, unique) })
	g.Go(func() error { return i.validateReferences(gctx, registry, foreign) })
	if err := g.Wait(); err != nil {
		return m.fail(ctx, AfterFailedValidate, i, err)
	}
	errs := ValidationErrors{}
	for _, e := range []ValidationErrors{fields, custom, unique, foreign} {
		errs.merge(e)
	}
	if len(errs) > 0 {
		return m.fail(ctx, AfterFailedValidate, i, errs)
	}
	i.err = nil
	if err := m.runHooks(ctx, AfterValidate, i); err != nil {
		return m.fail(ctx, AfterFailedValidate, i, err)
	}
	return nil
}

// validateFields checks value types, read-only fields and the rules of
// every field. Rules other than notNull and notEmpty pass on nil values,
// and no rule applies to increments.
func (i *Instance) validateFields(r *validate.Registry, errs ValidationErrors) error {
	for _, d := range i.model.fields {
		v := i.data[d.Name]
		if _, ok := i.castErrs[d.Name]; ok {
			errs.add(d.Name, r.Error(validate.Type, d.TypeName()))
			continue
		}
		if d.ReadOnly.On && i.state != stateNew && i.Changed(d.Name) {
			errs.add(d.Name, message(d.ReadOnly.Msg, r.Error(validate.ReadOnly)))
		}
		if _, ok := v.(dialect.Arith); ok {
			continue
		}
		for _, rule := range d.Rules {
			if v == nil && rule.Name != "notNull" && rule.Name != "notEmpty" {
				continue
			}
			ok, err := r.Test(rule.Name, v, rule.Args...)
			if err != nil {
				return fmt.Errorf("tessera: %s.%s: %w", i.model.name, d.Name, err)
			}
			if !ok {
				errs.add(d.Name, message(rule.Msg, r.Error(rule.Name, rule.Args...)))
			}
		}
		if v == nil {
			continue
		}
		for _, fn := range d.Funcs {
			if err := fn.Fn(v); err != nil {
				errs.add(d.Name, err.Error())
			}
		}
	}
	return nil
}

func (i *Instance) validateCustom(ctx context.Context, errs ValidationErrors) error {
	for _, v := range i.model.validators {
		if err := v.Fn(ctx, i); err != nil {
			errs.add(v.Name, err.Error())
		}
	}
	return nil
}

// validateUnique counts the other rows holding the values of every unique
// key. Keys with a nil value never collide.
func (i *Instance) validateUnique(ctx context.Context, r *validate.Registry, errs ValidationErrors) error {
	m := i.model
	for _, k := range m.keys {
		if !i.checkKey(k.Fields) {
			continue
		}
		where := make(dialect.Where, 0, len(k.Fields)+len(m.primaryKeys))
		for _, name := range k.Fields {
			where = append(where, dialect.Cond{Field: name, Value: m.byName[name].Value(i.data[name])})
		}
		if i.state != stateNew {
			self, err := i.keyWhere(i.synced)
			if err != nil {
				return err
			}
			// A row is another row when any key component differs.
			other := make(dialect.Where, 0, len(self))
			for _, c := range self {
				other = append(other, dialect.Cond{Field: c.Field, Value: dialect.Ops{"ne": c.Value}, Type: "or"})
			}
			if len(other) == 1 {
				c := other[0]
				c.Type = "and"
				where = append(where, c)
			} else {
				where = where.Group("and", other)
			}
		}
		n, err := m.client.driver.Count(ctx, &dialect.Options{Table: m.table, Where: where})
		if err != nil {
			return err
		}
		if n > 0 {
			errs.add(k.Name, message(k.Msg, r.Error(validate.Unique, k.Fields)))
		}
	}
	return nil
}

// checkKey reports whether a key over fields needs a database check.
func (i *Instance) checkKey(fields []string) bool {
	changed := i.state == stateNew
	for _, name := range fields {
		v := i.data[name]
		if v == nil {
			return false
		}
		if _, ok := v.(dialect.Arith); ok {
			return false
		}
		if _, ok := i.castErrs[name]; ok {
			return false
		}
		changed = changed || i.Changed(name)
	}
	return changed
}

// validateReferences checks that the target row of every foreign key
// exists.
func (i *Instance) validateReferences(ctx context.Context, r *validate.Registry, errs ValidationErrors) error {
	m := i.model
	for _, ref := range m.references {
		if !i.checkKey([]string{ref.Field}) {
			continue
		}
		target, ok := m.client.Model(ref.Model)
		if !ok {
			return fmt.Errorf("tessera: %s.%s references unknown model %q", m.name, ref.Field, ref.Model)
		}
		d, ok := target.byName[ref.TargetField]
		if !ok {
			return fmt.Errorf("tessera: %s.%s references unknown field %s.%s", m.name, ref.Field, ref.Model, ref.TargetField)
		}
		v := i.data[ref.Field]
		if c, err := d.Cast(v); err == nil {
			v = c
		}
		n, err := m.client.driver.Count(ctx, &dialect.Options{
			Table: target.table,
			Where: dialect.Where{{Field: ref.TargetField, Value: d.Value(v)}},
		})
		if err != nil {
			return err
		}
		if n == 0 {
			errs.add(ref.Field, message(ref.Msg, r.Error(validate.ForeignKey, ref.Model)))
		}
	}
	return nil
}

func message(custom, fallback string) string {
	if custom != "" {
		return custom
	}
	return fallback
}
