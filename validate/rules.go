package validate

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/tessera/schema/field"
)

type rule struct {
	test TestFunc
	msg  string
}

var builtin = map[string]rule{
	"notNull":        {notNull, "cannot be null"},
	"notEmpty":       {notEmpty, "cannot be empty"},
	"len":            {length, "length must be between %s and %s"},
	"min":            {minimum, "must be greater than or equal to %s"},
	"max":            {maximum, "must be less than or equal to %s"},
	"isInt":          {isInt, "must be an integer"},
	"isFloat":        {isFloat, "must be a float"},
	"isNumeric":      {isNumeric, "must be numeric"},
	"isDecimal":      {isDecimal, "must be a decimal"},
	"isAlpha":        {matches(alphaRe), "must contain only letters"},
	"isAlphanumeric": {matches(alnumRe), "must contain only letters and numbers"},
	"isEmail":        {isEmail, "must be a valid email address"},
	"isURL":          {isURL, "must be a valid URL"},
	"isIP":           {isIP, "must be a valid IP address"},
	"isUUID":         {isUUID, "must be a valid UUID"},
	"isDate":         {isDate, "must be a valid date"},
	"isIn":           {isIn, "must be one of %s"},
	"notIn":          {not(isIn), "must not be one of %s"},
	"contains":       {contains, "must contain %s"},
	"notContains":    {not(contains), "must not contain %s"},
	"is":             {is, "must match %s"},
	"not":            {not(is), "must not match %s"},
	"isLowercase":    {isLowercase, "must be lowercase"},
	"isUppercase":    {isUppercase, "must be uppercase"},
}

var extra = map[string]string{
	Unique:     "%s must be unique",
	ForeignKey: "must reference an existing %s",
	ReadOnly:   "is read-only",
	Type:       "must be of type %s",
}

var (
	alphaRe   = regexp.MustCompile(`^[a-zA-Z]+$`)
	alnumRe   = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	digitsRe  = regexp.MustCompile(`^[-+]?[0-9]+$`)
	decimalRe = regexp.MustCompile(`^[-+]?([0-9]+)?(\.[0-9]+)?$`)
)

// Compiled patterns of the is and not rules.
var patterns sync.Map

func not(fn TestFunc) TestFunc {
	return func(v any, args ...any) bool {
		return !fn(v, args...)
	}
}

func matches(re *regexp.Regexp) TestFunc {
	return func(v any, _ ...any) bool {
		s, ok := text(v)
		return ok && re.MatchString(s)
	}
}

func notNull(v any, _ ...any) bool {
	return v != nil
}

func notEmpty(v any, _ ...any) bool {
	if s, ok := text(v); ok {
		return strings.TrimSpace(s) != ""
	}
	if n, ok := size(v); ok {
		return n > 0
	}
	return v != nil
}

// length checks the rune count of strings and the size of lists against
// [min, max]. A missing max is unbounded.
func length(v any, args ...any) bool {
	n, ok := size(v)
	if !ok {
		return false
	}
	if len(args) > 0 {
		lo, err := number(args[0])
		if err != nil || float64(n) < lo {
			return false
		}
	}
	if len(args) > 1 {
		hi, err := number(args[1])
		if err != nil || float64(n) > hi {
			return false
		}
	}
	return true
}

func minimum(v any, args ...any) bool {
	return compareTo(v, args, func(c int) bool { return c >= 0 })
}

func maximum(v any, args ...any) bool {
	return compareTo(v, args, func(c int) bool { return c <= 0 })
}

func compareTo(v any, args []any, ok func(int) bool) bool {
	if len(args) == 0 {
		return false
	}
	a, err := toDecimal(v)
	if err != nil {
		return false
	}
	b, err := toDecimal(args[0])
	if err != nil {
		return false
	}
	return ok(a.Cmp(b))
}

func isInt(v any, _ ...any) bool {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case decimal.Decimal:
		return v.IsInteger()
	}
	s, ok := text(v)
	return ok && digitsRe.MatchString(strings.TrimSpace(s))
}

func isFloat(v any, _ ...any) bool {
	switch v.(type) {
	case float32, float64, decimal.Decimal:
		return true
	}
	if isInt(v) {
		return true
	}
	s, ok := text(v)
	if !ok {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// isNumeric accepts numbers and strings holding a decimal number.
func isNumeric(v any, _ ...any) bool {
	if isInt(v) {
		return true
	}
	if s, ok := text(v); ok {
		return decimalRe.MatchString(s) && s != "" && s != "."
	}
	_, err := toDecimal(v)
	return err == nil
}

func isDecimal(v any, _ ...any) bool {
	switch v.(type) {
	case float32, float64, decimal.Decimal:
		return true
	}
	if isInt(v) {
		return true
	}
	s, ok := text(v)
	return ok && s != "" && s != "." && decimalRe.MatchString(s)
}

func isEmail(v any, _ ...any) bool {
	s, ok := text(v)
	if !ok {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func isURL(v any, _ ...any) bool {
	s, ok := text(v)
	if !ok {
		return false
	}
	u, err := url.ParseRequestURI(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// isIP accepts an optional version argument, 4 or 6.
func isIP(v any, args ...any) bool {
	s, ok := text(v)
	if !ok {
		return false
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	if len(args) == 0 {
		return true
	}
	switch fmt.Sprint(args[0]) {
	case "4":
		return ip.To4() != nil
	case "6":
		return ip.To4() == nil
	default:
		return false
	}
}

func isUUID(v any, _ ...any) bool {
	switch v := v.(type) {
	case uuid.UUID:
		return true
	case string:
		return uuid.Validate(v) == nil
	}
	return false
}

func isDate(v any, _ ...any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	s, ok := text(v)
	if !ok {
		return false
	}
	for _, layout := range field.DateLayouts {
		if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return true
		}
	}
	return false
}

// isIn reports whether v equals one of the arguments. A single slice
// argument is the list itself.
func isIn(v any, args ...any) bool {
	for _, a := range flatten(args) {
		if field.Equal(v, a) || fmt.Sprint(v) == fmt.Sprint(a) {
			return true
		}
	}
	return false
}

func contains(v any, args ...any) bool {
	s, ok := text(v)
	if !ok || len(args) == 0 {
		return false
	}
	return strings.Contains(s, fmt.Sprint(args[0]))
}

// is matches v against a regular expression. An optional second argument
// holds flags, e.g. "i" for case-insensitive matching.
func is(v any, args ...any) bool {
	s, ok := text(v)
	if !ok || len(args) == 0 {
		return false
	}
	re, err := pattern(args...)
	return err == nil && re.MatchString(s)
}

func pattern(args ...any) (*regexp.Regexp, error) {
	expr := fmt.Sprint(args[0])
	if re, ok := args[0].(*regexp.Regexp); ok {
		return re, nil
	}
	if len(args) > 1 {
		if flags := fmt.Sprint(args[1]); flags != "" {
			expr = "(?" + flags + ")" + expr
		}
	}
	if re, ok := patterns.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patterns.Store(expr, re)
	return re, nil
}

func isLowercase(v any, _ ...any) bool {
	s, ok := text(v)
	return ok && !strings.ContainsFunc(s, unicode.IsUpper)
}

func isUppercase(v any, _ ...any) bool {
	s, ok := text(v)
	return ok && !strings.ContainsFunc(s, unicode.IsLower)
}

func text(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

func size(v any) (int, bool) {
	if s, ok := text(v); ok {
		return utf8.RuneCountInString(s), true
	}
	if v == nil {
		return 0, false
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func number(v any) (float64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt(int64(v)), nil
	case time.Time:
		return decimal.Decimal{}, fmt.Errorf("validate: date is not a number")
	}
	s, ok := text(v)
	if !ok {
		s = fmt.Sprint(v)
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}
