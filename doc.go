// Package tessera is an active record style ORM for MySQL and SQLite.
//
// A Client owns a driver and a registry of models. Models are defined from
// field builders and hand out Instances, which track their changes and
// validate, create, update and destroy themselves:
//
//	client, err := tessera.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//	    return err
//	}
//	users, err := client.Define("user", []field.Definer{
//	    field.Integer("id").PrimaryKey().AutoIncrement(),
//	    field.String("email").Unique().Validate("isEmail"),
//	    field.Integer("visits").Default(0),
//	})
//	if err != nil {
//	    return err
//	}
//	u, err := users.Create(ctx, map[string]any{"email": "a8m@example.com"})
//	if tessera.IsValidationError(err) {
//	    // field name -> messages
//	}
//	u.Set("visits", dialect.Increment(1))
//	err = u.Save(ctx)
//
// # Hooks
//
// Hooks run around every write of an instance. Failures of a write, whether
// in validation, a hook or the database, run the matching afterFailed hooks:
//
//	users.AddHook(tessera.BeforeCreate, func(ctx context.Context, i *tessera.Instance) error {
//	    i.Set("email", strings.ToLower(i.Get("email").(string)))
//	    return nil
//	})
//
// # Transactions
//
// Operations called with a context returned by Transaction.Start, or passed
// to the function of WithTx, run inside the transaction:
//
//	err := client.WithTx(ctx, func(ctx context.Context) error {
//	    _, err := users.Update(ctx, map[string]any{"visits": 0}, tessera.Query{}, tessera.Direct())
//	    return err
//	})
//
// # Sub-packages
//
//   - dialect: query options and the driver contract
//   - dialect/mysql, dialect/sqlite: SQL builders and drivers
//   - schema/field, schema/mixin: field definitions
//   - validate: validation rules and messages
//   - privacy: mutation policies installed as hooks
//   - config: YAML and environment configuration
package tessera
