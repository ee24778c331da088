// Package validate provides the registry of named validation rules used by
// tessera models.
//
// A rule is a predicate over a field value plus a message template:
//
//	r := validate.New()
//	ok, err := r.Test("len", "tessera", 2, 10) // true, nil
//	msg := r.Error("len", 2, 10)               // "length must be between 2 and 10"
//
// Templates use positional %s placeholders. The last placeholder takes all
// remaining arguments, so list rules read naturally:
//
//	r.Error("isIn", "red", "green") // "must be one of red, green"
//
// # Languages
//
// Messages are kept per language tag (golang.org/x/text/language) with
// English as the default. WithLanguage returns a view of the same rules that
// renders translated templates, falling back to the closest available
// language:
//
//	r.SetMessage(language.German, "notNull", "darf nicht leer sein")
//	de := r.WithLanguage(language.MustParse("de-CH"))
//	de.Error("notNull") // "darf nicht leer sein"
//
// # Custom Rules
//
//	r.Register("even", func(v any, _ ...any) bool {
//	    n, ok := v.(int64)
//	    return ok && n%2 == 0
//	}, "must be even")
package validate
