// Package mixin provides reusable field sets for tessera models.
//
// # Built-in Mixins
//
//	// ID mixin: Adds auto-incrementing integer ID
//	mixin.ID{}
//
//	// Time mixin: Adds created_at and updated_at timestamps
//	mixin.Time{}
//
//	// CreateTime / UpdateTime: only one of the two timestamps
//	mixin.CreateTime{}
//	mixin.UpdateTime{}
//
//	// TenantID mixin: Adds tenant_id for multi-tenancy
//	mixin.TenantID{}
//
// # Using Mixins
//
// Mixins are passed to the model definition:
//
//	users, err := client.Define("user", []field.Definer{
//	    field.String("name"),
//	}, tessera.Mixins(mixin.ID{}, mixin.TenantID{}))
//
// The resulting model has:
//   - id (integer, auto-increment, primary key)
//   - tenant_id (string, read-only)
//   - name (string)
//   - created_at and updated_at (date, added by default)
//
// Mixin fields come before the fields of the model, in the order the mixins
// are given. A model field with the same name as a mixin field replaces it.
//
// # Custom Mixins
//
// Embed Schema and override Fields:
//
//	type AuditMixin struct {
//	    mixin.Schema
//	}
//
//	func (AuditMixin) Fields() []field.Definer {
//	    return []field.Definer{
//	        field.String("created_by"),
//	        field.String("updated_by"),
//	    }
//	}
//
// ValidateFields adds one rule to every field of a mixin:
//
//	mixin.ValidateFields(AuditMixin{}, "notEmpty")
package mixin
