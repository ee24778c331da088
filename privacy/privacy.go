package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/tessera"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from policy rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("tessera/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("tessera/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("tessera/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is a bit set of mutation operations.
type Op uint

// Mutation operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDestroy

	// OpWrite matches every operation.
	OpWrite = OpCreate | OpUpdate | OpDestroy
)

// Is reports whether o matches one of the operations of op.
func (o Op) Is(op Op) bool { return o&op != 0 }

// String returns the name of a single operation.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDestroy:
		return "destroy"
	}
	return fmt.Sprintf("Op(%d)", uint(o))
}

// Mutation is the write of one instance, as seen by the rules of a policy.
type Mutation struct {
	op Op
	i  *tessera.Instance
}

// NewMutation returns the mutation of i by op.
func NewMutation(op Op, i *tessera.Instance) *Mutation {
	return &Mutation{op: op, i: i}
}

// Op returns the operation of the mutation.
func (m *Mutation) Op() Op { return m.op }

// Model returns the name of the mutated model.
func (m *Mutation) Model() string { return m.i.Model().Name() }

// Instance returns the mutated instance.
func (m *Mutation) Instance() *tessera.Instance { return m.i }

// Field returns the value the field is written with. The second result is
// false for unknown and unset fields.
func (m *Mutation) Field(name string) (any, bool) {
	if _, ok := m.i.Model().Field(name); !ok {
		return nil, false
	}
	v := m.i.Get(name)
	return v, v != nil
}

// OldField returns the stored value of a field. It is not available on
// create.
func (m *Mutation) OldField(name string) (any, bool) {
	if m.op == OpCreate {
		return nil, false
	}
	if _, ok := m.i.Model().Field(name); !ok {
		return nil, false
	}
	v := m.i.Original(name)
	return v, v != nil
}

type (
	// MutationRule defines the interface deciding whether a
	// mutation is allowed.
	MutationRule interface {
		EvalMutation(context.Context, *Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule
)

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, *Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m *Mutation) error {
	return f(ctx, m)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() MutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() MutationRule {
	return fixedDecision{Deny}
}

// ContextMutationRule creates a mutation rule from a context evaluation
// function. Returning nil is equivalent to returning Skip.
func ContextMutationRule(eval func(context.Context) error) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, _ *Mutation) error {
		return eval(ctx)
	})
}

// OnOperation evaluates the given rule only on the given operations.
func OnOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyOperationRule returns a rule denying the given operations.
func DenyOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m *Mutation) error {
		return Denyf("tessera/privacy: operation %s is not allowed", m.Op())
	})
	return OnOperation(rule, op)
}

// AllowOperationRule returns a rule allowing the given operations.
func AllowOperationRule(op Op) MutationRule {
	return OnOperation(AlwaysAllowRule(), op)
}

// EvalMutation evaluates the rules in order. The first Allow ends the
// evaluation with a nil error and the first other non-Skip decision is
// returned. A policy whose rules all skip allows the mutation.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m *Mutation) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Apply installs the policy as beforeCreate, beforeUpdate and beforeDestroy
// hooks of the model. Hooks added later run after the policy. A denied
// write fails with a tessera.PrivacyError before any statement is issued.
func Apply(model *tessera.Model, policy MutationPolicy) error {
	for t, op := range map[tessera.HookType]Op{
		tessera.BeforeCreate:  OpCreate,
		tessera.BeforeUpdate:  OpUpdate,
		tessera.BeforeDestroy: OpDestroy,
	} {
		if err := model.AddHook(t, hook(policy, op)); err != nil {
			return err
		}
	}
	return nil
}

func hook(policy MutationPolicy, op Op) tessera.Hook {
	return func(ctx context.Context, i *tessera.Instance) error {
		if err := policy.EvalMutation(ctx, NewMutation(op, i)); err != nil {
			return tessera.NewPrivacyError(i.Model().Name(), op.String(), err)
		}
		return nil
	}
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it. The decision overrides every policy.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalMutation(context.Context, *Mutation) error {
	return f.decision
}
