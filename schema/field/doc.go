// Package field provides fluent builders for defining model fields in tessera.
//
// Field names are the column names of the table:
//
//	field.Integer("id").PrimaryKey().AutoIncrement()
//	field.String("email").Unique("email is taken")
//
// # Field Types
//
//	field.String("name")
//	field.Text("bio")
//	field.Integer("age")      // int64
//	field.Number("score")     // float64
//	field.Float("ratio")      // float64
//	field.Decimal("price")    // decimal.Decimal
//	field.Date("born_at")     // time.Time
//
// Every type has an array variant, a list persisted as one delimited string:
//
//	field.Integer("ids").Array()        // "1,2,3" <-> []any{1, 2, 3}
//	field.String("tags").Array("|")
//	field.New("days", "array-date")     // textual form
//
// # Constraints
//
// PrimaryKey, Unique, AutoIncrement and ReadOnly accept an optional message
// reported by validation instead of the default one:
//
//	field.String("code").ReadOnly("code cannot change")
//
// At most one field of a model may be auto increment, and it must be the
// primary key.
//
// # Defaults
//
//	field.Integer("views").Default(0)
//	field.String("id").PrimaryKey().DefaultFunc(field.NewUUID)
//	field.String("key").DefaultFunc(field.NewULID)
//
// # Validation
//
// Rules name an entry of the validation registry; custom functions run as
// they are:
//
//	field.String("name").Validate("notEmpty").Validate("len", 2, 50)
//	field.String("email").ValidateMsg("isEmail", "not an email")
//	field.Integer("n").ValidateFunc("even", func(v any) error { ... })
package field
