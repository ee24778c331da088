package field

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// A Type represents a field type.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeString
	TypeText
	TypeInteger
	TypeNumber
	TypeFloat
	TypeDecimal
	TypeDate
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeString:  "string",
	TypeText:    "text",
	TypeInteger: "integer",
	TypeNumber:  "number",
	TypeFloat:   "float",
	TypeDecimal: "decimal",
	TypeDate:    "date",
}

// ArrayPrefix marks the array variant of a type in its textual form.
const ArrayPrefix = "array-"

// DefaultDelimiter joins array elements in storage.
const DefaultDelimiter = ","

// String returns the type name.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInteger || t == TypeNumber || t == TypeFloat || t == TypeDecimal
}

// ParseType resolves a textual type such as "integer" or "array-date". It
// reports whether the type is the array variant.
func ParseType(s string) (Type, bool, error) {
	name, array := strings.CutPrefix(strings.ToLower(strings.TrimSpace(s)), ArrayPrefix)
	for t := TypeString; t < endTypes; t++ {
		if typeNames[t] == name {
			return t, array, nil
		}
	}
	return TypeInvalid, false, fmt.Errorf("field: unknown type %q", s)
}

// Flag is a boolean constraint with an optional custom error message.
type Flag struct {
	On  bool
	Msg string
}

func flag(msg []string) Flag {
	f := Flag{On: true}
	if len(msg) > 0 {
		f.Msg = msg[0]
	}
	return f
}

// Rule is a named validation rule of the validation registry.
type Rule struct {
	Name string
	Args []any
	// Msg replaces the registry message of the rule.
	Msg string
}

// Func is a custom validator. A non-nil error fails validation with the
// error text as message.
type Func struct {
	Name string
	Fn   func(any) error
}

// A Descriptor for field configuration.
type Descriptor struct {
	Name          string
	Type          Type
	Array         bool
	Delimiter     string
	PrimaryKey    Flag
	Unique        Flag
	AutoIncrement Flag
	ReadOnly      Flag
	Default       any
	DefaultFunc   func() any
	Rules         []Rule
	Funcs         []Func
	Err           error
}

// Definer is implemented by field builders.
type Definer interface {
	Descriptor() *Descriptor
}

// TypeName returns the textual type, including the array prefix.
func (d *Descriptor) TypeName() string {
	if d.Array {
		return ArrayPrefix + d.Type.String()
	}
	return d.Type.String()
}

// HasDefault reports whether the field has a default value or generator.
func (d *Descriptor) HasDefault() bool {
	return d.DefaultFunc != nil || d.Default != nil
}

// DefaultValue returns a fresh default value of the field. Array defaults
// are copied, so instances never share a default list.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch {
	case d.DefaultFunc != nil:
		return d.DefaultFunc(), true
	case d.Default == nil:
		return nil, false
	case d.Array:
		if l, ok := d.Default.([]any); ok {
			return slices.Clone(l), true
		}
	}
	return d.Default, true
}

// Check reports configuration errors of the descriptor.
func (d *Descriptor) Check() error {
	if d.Err != nil {
		return d.Err
	}
	if d.Name == "" {
		return errors.New("field: missing field name")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("field: %q has an invalid type", d.Name)
	}
	if d.AutoIncrement.On {
		if !d.PrimaryKey.On {
			return fmt.Errorf("field: auto increment field %q must be a primary key", d.Name)
		}
		if d.Type != TypeInteger || d.Array {
			return fmt.Errorf("field: auto increment field %q must be an integer", d.Name)
		}
	}
	if d.Array && d.Delimiter == "" {
		return fmt.Errorf("field: array field %q has an empty delimiter", d.Name)
	}
	return nil
}

// Builder is the builder for fields.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t, Delimiter: DefaultDelimiter}}
}

// New returns a builder for a field of the textual type, e.g. "array-integer".
// An unknown type is reported when the model is defined.
func New(name, typ string) *Builder {
	t, array, err := ParseType(typ)
	b := newBuilder(name, t)
	b.desc.Array = array
	b.desc.Err = err
	return b
}

// String returns a new Field with type string.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Text returns a new Field with type text.
func Text(name string) *Builder { return newBuilder(name, TypeText) }

// Integer returns a new Field with type integer.
func Integer(name string) *Builder { return newBuilder(name, TypeInteger) }

// Number returns a new Field with type number.
func Number(name string) *Builder { return newBuilder(name, TypeNumber) }

// Float returns a new Field with type float.
func Float(name string) *Builder { return newBuilder(name, TypeFloat) }

// Decimal returns a new Field with type decimal.
func Decimal(name string) *Builder { return newBuilder(name, TypeDecimal) }

// Date returns a new Field with type date.
func Date(name string) *Builder { return newBuilder(name, TypeDate) }

// Array turns the field into a list of its type, stored as one delimited
// string. The delimiter defaults to a comma.
func (b *Builder) Array(delim ...string) *Builder {
	b.desc.Array = true
	if len(delim) > 0 {
		b.desc.Delimiter = delim[0]
	}
	return b
}

// PrimaryKey marks the field as (part of) the primary key.
func (b *Builder) PrimaryKey(msg ...string) *Builder {
	b.desc.PrimaryKey = flag(msg)
	return b
}

// Unique adds a single field unique key.
func (b *Builder) Unique(msg ...string) *Builder {
	b.desc.Unique = flag(msg)
	return b
}

// AutoIncrement marks the field as generated by the database on insert.
func (b *Builder) AutoIncrement(msg ...string) *Builder {
	b.desc.AutoIncrement = flag(msg)
	return b
}

// ReadOnly rejects changes of the field once the record exists.
func (b *Builder) ReadOnly(msg ...string) *Builder {
	b.desc.ReadOnly = flag(msg)
	return b
}

// Default sets the default value of the field, used for new records.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a generator of default values, e.g. NewUUID.
func (b *Builder) DefaultFunc(fn func() any) *Builder {
	b.desc.DefaultFunc = fn
	return b
}

// Validate adds a registry rule, e.g. Validate("len", 2, 10).
func (b *Builder) Validate(rule string, args ...any) *Builder {
	b.desc.Rules = append(b.desc.Rules, Rule{Name: rule, Args: args})
	return b
}

// ValidateMsg adds a registry rule with a custom message.
func (b *Builder) ValidateMsg(rule, msg string, args ...any) *Builder {
	b.desc.Rules = append(b.desc.Rules, Rule{Name: rule, Args: args, Msg: msg})
	return b
}

// ValidateFunc adds a custom validator.
func (b *Builder) ValidateFunc(name string, fn func(any) error) *Builder {
	b.desc.Funcs = append(b.desc.Funcs, Func{Name: name, Fn: fn})
	return b
}

// Descriptor implements the Definer interface.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}

// NewUUID returns a random UUID string. It is meant for DefaultFunc.
func NewUUID() any { return uuid.NewString() }

// NewULID returns a new lexically sortable ULID string. It is meant for
// DefaultFunc.
func NewULID() any { return ulid.Make().String() }
