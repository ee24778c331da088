package tessera

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// HookType names a lifecycle event of an instance.
type HookType string

// Lifecycle events, in the order they may run.
const (
	BeforeValidate      HookType = "beforeValidate"
	AfterValidate       HookType = "afterValidate"
	AfterFailedValidate HookType = "afterFailedValidate"
	BeforeCreate        HookType = "beforeCreate"
	AfterCreate         HookType = "afterCreate"
	AfterFailedCreate   HookType = "afterFailedCreate"
	BeforeUpdate        HookType = "beforeUpdate"
	AfterUpdate         HookType = "afterUpdate"
	AfterFailedUpdate   HookType = "afterFailedUpdate"
	BeforeDestroy       HookType = "beforeDestroy"
	AfterDestroy        HookType = "afterDestroy"
	AfterFailedDestroy  HookType = "afterFailedDestroy"

	// BeforeDelete and AfterDelete are synonyms of the destroy events.
	BeforeDelete HookType = "beforeDelete"
	AfterDelete  HookType = "afterDelete"
)

var hookTypes = []HookType{
	BeforeValidate, AfterValidate, AfterFailedValidate,
	BeforeCreate, AfterCreate, AfterFailedCreate,
	BeforeUpdate, AfterUpdate, AfterFailedUpdate,
	BeforeDestroy, AfterDestroy, AfterFailedDestroy,
}

// Hook is called at a lifecycle event of an instance. Hooks of one event
// run in registration order, each one observing the changes of the ones
// before it. A non-nil error aborts the chain and the operation.
//
// Hooks of the afterFailed events can read the failure with Instance.Err.
type Hook func(ctx context.Context, i *Instance) error

// HookTypes returns the recognized hook types, without synonyms.
func HookTypes() []HookType {
	return slices.Clone(hookTypes)
}

// canonical resolves synonyms and reports whether t is recognized.
func (t HookType) canonical() (HookType, bool) {
	switch t {
	case BeforeDelete:
		return BeforeDestroy, true
	case AfterDelete:
		return AfterDestroy, true
	}
	return t, slices.Contains(hookTypes, t)
}

// AddHook appends fn to the hooks of the given type. An unrecognized type
// is an error.
func (m *Model) AddHook(t HookType, fn Hook) error {
	ct, ok := t.canonical()
	if !ok {
		return fmt.Errorf("tessera: unknown hook type %q", t)
	}
	if fn == nil {
		return fmt.Errorf("tessera: nil %s hook", t)
	}
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks[ct] = append(m.hooks[ct], fn)
	return nil
}

// Hooks returns the hooks registered for the given type. Synonyms return the
// hooks of the event they stand for.
func (m *Model) Hooks(t HookType) []Hook {
	ct, _ := t.canonical()
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	return slices.Clone(m.hooks[ct])
}

// ClearHooks removes every hook of the model.
func (m *Model) ClearHooks() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	clear(m.hooks)
}

// runHooks runs the chain of the given type, stopping at the first error.
func (m *Model) runHooks(ctx context.Context, t HookType, i *Instance) error {
	for _, fn := range m.Hooks(t) {
		if err := fn(ctx, i); err != nil {
			return &HookError{Type: t, Err: err}
		}
	}
	return nil
}

// fail records err on the instance and runs the failure hooks of t. The
// original error is returned unchanged unless a failure hook fails too.
func (m *Model) fail(ctx context.Context, t HookType, i *Instance, err error) error {
	i.err = err
	herr := m.runHooks(ctx, t, i)
	if herr == nil {
		return err
	}
	m.client.logger.WarnContext(ctx, "tessera: failure hook returned an error",
		"model", m.name, "hook", string(t), "error", herr)
	return errors.Join(err, herr)
}
