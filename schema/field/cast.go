package field

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayouts are the layouts accepted when casting strings to dates.
var DateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Cast coerces v to the Go type of the field: string for string and text,
// int64 for integer, float64 for number and float, decimal.Decimal for
// decimal and time.Time for date. Array fields accept a delimited string or
// a slice and return []any. A nil value stays nil.
func (d *Descriptor) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if !d.Array {
		return castScalar(d.Type, v)
	}
	switch v := v.(type) {
	case string:
		return d.Expand(v)
	case []byte:
		return d.Expand(string(v))
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("field: %q expects a list, got %T", d.Name, v)
	}
	list := make([]any, rv.Len())
	for i := range list {
		e, err := castScalar(d.Type, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("field: %q element %d: %w", d.Name, i, err)
		}
		list[i] = e
	}
	return list, nil
}

// Expand splits a stored array value on the delimiter and casts every
// element. An empty string is an empty list.
func (d *Descriptor) Expand(s string) ([]any, error) {
	if s == "" {
		return []any{}, nil
	}
	parts := strings.Split(s, d.Delimiter)
	list := make([]any, len(parts))
	for i, p := range parts {
		if d.Type.Numeric() {
			p = strings.TrimSpace(p)
		}
		e, err := castScalar(d.Type, p)
		if err != nil {
			return nil, fmt.Errorf("field: %q element %d: %w", d.Name, i, err)
		}
		list[i] = e
	}
	return list, nil
}

// Collapse joins the elements of list into the stored form of an array.
func (d *Descriptor) Collapse(list []any) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = format(e)
	}
	return strings.Join(parts, d.Delimiter)
}

// Value returns the storage form of v: arrays are collapsed, other values
// are returned unchanged.
func (d *Descriptor) Value(v any) any {
	if !d.Array || v == nil {
		return v
	}
	if l, ok := v.([]any); ok {
		return d.Collapse(l)
	}
	if c, err := d.Cast(v); err == nil {
		if l, ok := c.([]any); ok {
			return d.Collapse(l)
		}
	}
	return v
}

// Equal reports whether a and b hold the same field value. Lists are
// compared element by element, dates and decimals by value.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a := a.(type) {
	case []any:
		b, ok := b.([]any)
		return ok && slices.EqualFunc(a, b, Equal)
	case time.Time:
		b, ok := b.(time.Time)
		return ok && a.Equal(b)
	case decimal.Decimal:
		b, ok := b.(decimal.Decimal)
		return ok && a.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}

func castScalar(t Type, v any) (any, error) {
	switch t {
	case TypeString, TypeText:
		return toString(v), nil
	case TypeInteger:
		return toInt(v)
	case TypeNumber, TypeFloat:
		return toFloat(v)
	case TypeDecimal:
		return toDecimal(v)
	case TypeDate:
		return toDate(v)
	default:
		return nil, fmt.Errorf("field: cannot cast to %s", t)
	}
}

func toString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return format(v)
	}
}

func format(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("field: %d overflows integer", v)
		}
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case decimal.Decimal:
		return v.IntPart(), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return toInt(string(v))
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("field: %q is not an integer", v)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("field: cannot cast %T to integer", v)
	}
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("field: %q is not a number", v)
		}
		return f, nil
	case []byte:
		return toFloat(string(v))
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("field: cannot cast %T to number", v)
	}
	return float64(n), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field: %q is not a decimal", v)
		}
		return d, nil
	case []byte:
		return toDecimal(string(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	n, err := toInt(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("field: cannot cast %T to decimal", v)
	}
	return decimal.NewFromInt(n), nil
}

func toDate(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v != nil {
			return *v, nil
		}
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range DateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("field: %q is not a date", v)
	case []byte:
		return toDate(string(v))
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	}
	return time.Time{}, fmt.Errorf("field: cannot cast %T to date", v)
}
