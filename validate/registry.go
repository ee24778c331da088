package validate

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TestFunc reports whether v satisfies a rule configured with args.
type TestFunc func(v any, args ...any) bool

// Names of the messages reported by the instance validator itself, without a
// predicate test behind them.
const (
	Unique     = "unique"
	ForeignKey = "foreignKey"
	ReadOnly   = "readOnly"
	Type       = "type"
)

// Registry holds named predicate tests and their message templates. A
// Registry is safe for concurrent use.
type Registry struct {
	*store
	lang language.Tag
}

type store struct {
	mu      sync.RWMutex
	tests   map[string]TestFunc
	msgs    map[language.Tag]map[string]string
	matcher language.Matcher
}

// New returns a registry with the built-in rules and English messages.
func New() *Registry {
	s := &store{
		tests: make(map[string]TestFunc, len(builtin)),
		msgs:  map[language.Tag]map[string]string{language.English: {}},
	}
	for name, r := range builtin {
		s.tests[name] = r.test
		s.msgs[language.English][name] = r.msg
	}
	for name, msg := range extra {
		s.msgs[language.English][name] = msg
	}
	s.match()
	return &Registry{store: s, lang: language.English}
}

// WithLanguage returns a registry sharing the rules of r that renders
// messages in the given language. Missing translations fall back to the
// closest registered language, and finally to English.
func (r *Registry) WithLanguage(tag language.Tag) *Registry {
	return &Registry{store: r.store, lang: tag}
}

// Language returns the message language of r.
func (r *Registry) Language() language.Tag {
	return r.lang
}

// Register adds or replaces a rule and its English message template.
func (r *Registry) Register(name string, fn TestFunc, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests[name] = fn
	r.msgs[language.English][name] = template
}

// SetMessage sets the template of a rule in the given language.
func (r *Registry) SetMessage(tag language.Tag, name, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[tag]
	if !ok {
		m = make(map[string]string)
		r.msgs[tag] = m
		r.match()
	}
	m[name] = template
}

// Has reports whether a rule with the given name exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tests[name]
	return ok
}

// Test runs the named rule against v. An unknown rule is an error.
func (r *Registry) Test(name string, v any, args ...any) (bool, error) {
	r.mu.RLock()
	fn, ok := r.tests[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("validate: unknown rule %q", name)
	}
	return fn(v, args...), nil
}

// Error renders the message of the named rule. Every %s placeholder of the
// template is replaced by the next argument; the last placeholder takes all
// remaining arguments, comma separated. Slice arguments are flattened.
func (r *Registry) Error(name string, args ...any) string {
	tmpl := r.template(name)
	if tmpl == "" {
		return "validation failed on " + name
	}
	p := message.NewPrinter(r.lang)
	words := make([]string, 0, len(args))
	for _, a := range flatten(args) {
		words = append(words, p.Sprint(a))
	}
	parts := strings.Split(tmpl, "%s")
	var b strings.Builder
	for i, part := range parts {
		b.WriteString(part)
		switch {
		case i == len(parts)-1:
		case i == len(parts)-2:
			b.WriteString(strings.Join(words, ", "))
			words = nil
		case len(words) > 0:
			b.WriteString(words[0])
			words = words[1:]
		}
	}
	return b.String()
}

func (r *Registry) template(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.msgs[r.lang][name]; ok {
		return t
	}
	_, idx, conf := r.matcher.Match(r.lang)
	if conf != language.No {
		tags := r.tags()
		if t, ok := r.msgs[tags[idx]][name]; ok {
			return t
		}
	}
	return r.msgs[language.English][name]
}

// match rebuilds the language matcher. English is always the first tag, so
// it is the fallback of the matcher.
func (s *store) match() {
	s.matcher = language.NewMatcher(s.tags())
}

func (s *store) tags() []language.Tag {
	tags := slices.SortedFunc(maps.Keys(s.msgs), func(a, b language.Tag) int {
		return strings.Compare(a.String(), b.String())
	})
	i := slices.Index(tags, language.English)
	tags = append(tags[:i], tags[i+1:]...)
	return append([]language.Tag{language.English}, tags...)
}

func flatten(args []any) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		if _, ok := a.(string); ok {
			out = append(out, a)
			continue
		}
		rv := reflect.ValueOf(a)
		if a != nil && rv.Kind() == reflect.Slice {
			for i := range rv.Len() {
				out = append(out, rv.Index(i).Interface())
			}
			continue
		}
		out = append(out, a)
	}
	return out
}
