// Package sql holds the connection plumbing shared by the tessera SQL back
// ends.
//
// A Conn wraps a *sql.DB and executes the statements produced by a dialect
// builder. It is not a query builder itself; see the mysql and sqlite
// packages for those.
//
// # Transactions
//
// BeginTx returns a context bound to the new transaction. Every statement
// executed through the same Conn with that context runs inside it:
//
//	txCtx, tx, err := conn.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	if _, err := conn.Exec(txCtx, "UPDATE `users` SET `age` = ?", []any{30}); err != nil {
//	    return errors.Join(err, tx.Rollback())
//	}
//	return tx.Commit()
//
// # Statistics
//
// Every Conn counts its statements and reports slow ones:
//
//	conn := sql.NewConn(dialect.MySQL, db,
//	    sql.WithSlowThreshold(50*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	fmt.Println(conn.QueryStats().Stats())
//
// # Constraint Errors
//
// IsUniqueConstraintError, IsForeignKeyConstraintError and
// IsCheckConstraintError classify driver errors without importing the
// driver packages. IsConstraintError matches any of them.
package sql
