package field_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera/schema/field"
)

func TestInteger(t *testing.T) {
	fd := field.Integer("id").
		PrimaryKey().
		AutoIncrement().
		Descriptor()
	assert.Equal(t, "id", fd.Name)
	assert.Equal(t, field.TypeInteger, fd.Type)
	assert.True(t, fd.PrimaryKey.On)
	assert.Empty(t, fd.PrimaryKey.Msg)
	assert.True(t, fd.AutoIncrement.On)
	assert.False(t, fd.Unique.On)
	assert.NoError(t, fd.Check())

	fd = field.Integer("age").
		Default(10).
		Validate("min", 10).
		ValidateMsg("max", "too old", 150).
		Descriptor()
	v, ok := fd.DefaultValue()
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	require.Len(t, fd.Rules, 2)
	assert.Equal(t, field.Rule{Name: "min", Args: []any{10}}, fd.Rules[0])
	assert.Equal(t, "too old", fd.Rules[1].Msg)
}

func TestFlags(t *testing.T) {
	fd := field.String("email").
		Unique("email already taken").
		ReadOnly("email is fixed").
		Descriptor()
	assert.Equal(t, field.Flag{On: true, Msg: "email already taken"}, fd.Unique)
	assert.Equal(t, field.Flag{On: true, Msg: "email is fixed"}, fd.ReadOnly)
	assert.False(t, fd.PrimaryKey.On)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		def  field.Definer
		err  string
	}{
		{name: "ok", def: field.String("name")},
		{name: "no name", def: field.String(""), err: "field: missing field name"},
		{name: "auto increment without pk", def: field.Integer("n").AutoIncrement(), err: `field: auto increment field "n" must be a primary key`},
		{name: "auto increment string", def: field.String("n").PrimaryKey().AutoIncrement(), err: `field: auto increment field "n" must be an integer`},
		{name: "unknown type", def: field.New("n", "blob"), err: `field: unknown type "blob"`},
		{name: "empty delimiter", def: field.Integer("n").Array(""), err: `field: array field "n" has an empty delimiter`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Descriptor().Check()
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.err)
		})
	}
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"string", "text", "integer", "number", "float", "decimal", "date"} {
		typ, array, err := field.ParseType(name)
		require.NoError(t, err)
		assert.False(t, array)
		assert.Equal(t, name, typ.String())

		typ, array, err = field.ParseType("array-" + name)
		require.NoError(t, err)
		assert.True(t, array)
		assert.Equal(t, name, typ.String())
	}
	_, _, err := field.ParseType("array-")
	require.Error(t, err)
	_, _, err = field.ParseType("invalid")
	require.Error(t, err)

	fd := field.New("tags", "Array-String").Descriptor()
	require.NoError(t, fd.Check())
	assert.Equal(t, "array-string", fd.TypeName())
	assert.Equal(t, ",", fd.Delimiter)
}

func TestCast(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		def  field.Definer
		in   any
		out  any
		err  bool
	}{
		{name: "nil", def: field.Integer("n"), in: nil, out: nil},
		{name: "int from string", def: field.Integer("n"), in: "42", out: int64(42)},
		{name: "int from float", def: field.Integer("n"), in: 3.7, out: int64(3)},
		{name: "int from float string", def: field.Integer("n"), in: "3.7", out: int64(3)},
		{name: "int from text", def: field.Integer("n"), in: "abc", err: true},
		{name: "float from string", def: field.Float("f"), in: "1.5", out: 1.5},
		{name: "number from int", def: field.Number("f"), in: 2, out: float64(2)},
		{name: "decimal from string", def: field.Decimal("d"), in: "10.25", out: decimal.RequireFromString("10.25")},
		{name: "decimal from int", def: field.Decimal("d"), in: int64(3), out: decimal.NewFromInt(3)},
		{name: "decimal from text", def: field.Decimal("d"), in: "x", err: true},
		{name: "date from string", def: field.Date("d"), in: "2024-05-06", out: day},
		{name: "date from time", def: field.Date("d"), in: day, out: day},
		{name: "date from text", def: field.Date("d"), in: "yesterday", err: true},
		{name: "string from int", def: field.String("s"), in: 12, out: "12"},
		{name: "text from bytes", def: field.Text("s"), in: []byte("hi"), out: "hi"},
		{name: "array from string", def: field.Integer("a").Array(), in: "1,2,3", out: []any{int64(1), int64(2), int64(3)}},
		{name: "array from slice", def: field.Integer("a").Array(), in: []string{"1", "2"}, out: []any{int64(1), int64(2)}},
		{name: "array custom delimiter", def: field.String("a").Array("|"), in: "a|b", out: []any{"a", "b"}},
		{name: "array empty", def: field.String("a").Array(), in: "", out: []any{}},
		{name: "array bad element", def: field.Integer("a").Array(), in: "1,x", err: true},
		{name: "array scalar", def: field.Integer("a").Array(), in: 5, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.def.Descriptor().Cast(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, field.Equal(tt.out, got), "want %v, got %v", tt.out, got)
		})
	}
}

func TestArrayRoundTrip(t *testing.T) {
	fd := field.Integer("nums").Array().Descriptor()
	stored := fd.Value([]any{int64(1), int64(2), int64(3)})
	assert.Equal(t, "1,2,3", stored)
	list, err := fd.Expand(stored.(string))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, list)

	dates := field.Date("days").Array(";").Descriptor()
	day := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	list, err = dates.Expand(dates.Collapse([]any{day, day.Add(time.Hour)}))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, field.Equal(day, list[0]))

	assert.Equal(t, "a,b", field.String("s").Array().Descriptor().Value([]string{"a", "b"}))
	assert.Equal(t, 5, field.Integer("n").Descriptor().Value(5))
}

func TestEqual(t *testing.T) {
	now := time.Now()
	assert.True(t, field.Equal(nil, nil))
	assert.False(t, field.Equal(nil, int64(0)))
	assert.True(t, field.Equal(int64(1), int64(1)))
	assert.False(t, field.Equal(int64(1), 1))
	assert.True(t, field.Equal(now, now.In(time.UTC)))
	assert.True(t, field.Equal(decimal.RequireFromString("1.50"), decimal.RequireFromString("1.5")))
	assert.True(t, field.Equal([]any{int64(1), "a"}, []any{int64(1), "a"}))
	assert.False(t, field.Equal([]any{int64(1)}, []any{int64(1), int64(2)}))
}

func TestDefaults(t *testing.T) {
	fd := field.String("id").DefaultFunc(field.NewUUID).Descriptor()
	v1, ok := fd.DefaultValue()
	require.True(t, ok)
	v2, _ := fd.DefaultValue()
	assert.NotEqual(t, v1, v2)
	_, err := uuid.Parse(v1.(string))
	require.NoError(t, err)

	fd = field.String("key").DefaultFunc(field.NewULID).Descriptor()
	v, _ := fd.DefaultValue()
	_, err = ulid.Parse(v.(string))
	require.NoError(t, err)

	list := []any{"a"}
	fd = field.String("tags").Array().Default(list).Descriptor()
	v, _ = fd.DefaultValue()
	v.([]any)[0] = "changed"
	assert.Equal(t, "a", list[0], "array defaults are copied")

	_, ok = field.String("x").Descriptor().DefaultValue()
	assert.False(t, ok)
}

func TestValidateFunc(t *testing.T) {
	errOdd := errors.New("must be even")
	fd := field.Integer("n").ValidateFunc("even", func(v any) error {
		if v.(int64)%2 != 0 {
			return errOdd
		}
		return nil
	}).Descriptor()
	require.Len(t, fd.Funcs, 1)
	assert.Equal(t, "even", fd.Funcs[0].Name)
	assert.ErrorIs(t, fd.Funcs[0].Fn(int64(3)), errOdd)
	assert.NoError(t, fd.Funcs[0].Fn(int64(4)))
}
