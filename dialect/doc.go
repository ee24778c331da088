// Package dialect defines the driver contract shared by the tessera back ends.
//
// A query is described once as an Options value and handed to a Driver,
// which owns the connection and a dialect specific SQL builder:
//
//	opts := &dialect.Options{
//	    Table:   "posts",
//	    Where:   dialect.Eq(map[string]any{"user_id": 7}),
//	    OrderBy: "created_at DESC",
//	    Limit:   10,
//	}
//	rows, err := drv.Find(ctx, opts)
//
// # Supported Dialects
//
//	dialect.MySQL  = "mysql"
//	dialect.SQLite = "sqlite"
//
// # Where Conditions
//
// Conditions are an ordered list, each joined to the previous ones with its
// own type:
//
//	dialect.Where{
//	    {Field: "status", Value: "active"},
//	    {Field: "age", Value: dialect.Ops{"gte": 18, "lt": 65}},
//	    {Field: "role", Value: []any{"admin", "owner"}, Type: "or"},
//	}
//
// A nested Where is rendered in parentheses:
//
//	dialect.Where{{Field: "org", Value: 1}}.Group("and", dialect.Where{
//	    {Field: "num", Value: dialect.Ops{"ne": 2}},
//	    {Field: "region", Value: dialect.Ops{"ne": "eu"}, Type: "or"},
//	})
//
// # Driver Registry
//
// Back ends register themselves on import, the same way database/sql
// drivers do:
//
//	import _ "github.com/syssam/tessera/dialect/sqlite"
//
//	drv, err := dialect.Open(dialect.SQLite, ":memory:")
//
// # Sub-packages
//
//   - dialect/sql: connection plumbing shared by the SQL back ends
//   - dialect/mysql: MySQL builder and driver
//   - dialect/sqlite: SQLite builder and driver
package dialect
