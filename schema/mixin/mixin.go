package mixin

import (
	"github.com/syssam/tessera/schema/field"
)

// Mixin is a reusable set of fields shared by several models.
type Mixin interface {
	Fields() []field.Definer
}

// Schema is the default implementation of the Mixin interface.
// It should be embedded in all custom mixin definitions.
//
// Example:
//
//	type MyMixin struct {
//	    mixin.Schema
//	}
//
//	func (MyMixin) Fields() []field.Definer {
//	    return []field.Definer{
//	        field.String("custom_field"),
//	    }
//	}
type Schema struct{}

// Fields returns the fields of the mixin.
// Override this method to add custom fields.
func (Schema) Fields() []field.Definer { return nil }

// schema mixin must implement `Mixin` interface.
var _ Mixin = (*Schema)(nil)

// Names of the timestamp fields stamped by the model on writes.
const (
	CreatedAt = "created_at"
	UpdatedAt = "updated_at"
)

// ID adds an auto-incrementing integer primary key named id.
type ID struct {
	Schema
}

// Fields returns the id field.
func (ID) Fields() []field.Definer {
	return []field.Definer{
		field.Integer("id").
			PrimaryKey().
			AutoIncrement(),
	}
}

// Time adds created_at and updated_at timestamp fields to a model.
// created_at is stamped on creation and is read-only afterwards.
// updated_at is stamped on creation and on every update that changes data.
//
// Models get this mixin unless they are defined WithoutTimestamps.
type Time struct {
	Schema
}

// Fields returns the time tracking fields.
func (Time) Fields() []field.Definer {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// CreateTime adds only the created_at timestamp field.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []field.Definer {
	return []field.Definer{
		field.Date(CreatedAt).ReadOnly(),
	}
}

// UpdateTime adds only the updated_at timestamp field.
type UpdateTime struct {
	Schema
}

// Fields returns the updated_at field.
func (UpdateTime) Fields() []field.Definer {
	return []field.Definer{
		field.Date(UpdatedAt),
	}
}

// TenantID adds a read-only tenant_id string field for multi-tenancy.
type TenantID struct {
	Schema
}

// Fields returns the tenant_id field.
func (TenantID) Fields() []field.Definer {
	return []field.Definer{
		field.String("tenant_id").
			ReadOnly().
			Validate("notEmpty"),
	}
}

// ValidateFields wraps a mixin and adds the validation rule to all its fields.
//
// Example:
//
//	mixin.ValidateFields(AuditMixin{}, "notNull")
func ValidateFields(m Mixin, rule string, args ...any) Mixin {
	return fieldValidator{Mixin: m, rule: field.Rule{Name: rule, Args: args}}
}

type fieldValidator struct {
	Mixin
	rule field.Rule
}

func (v fieldValidator) Fields() []field.Definer {
	fields := v.Mixin.Fields()
	for i := range fields {
		desc := fields[i].Descriptor()
		desc.Rules = append(desc.Rules, v.rule)
	}
	return fields
}
