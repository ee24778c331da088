// Command tessera previews the SQL of a query and checks a configured
// connection.
//
//	tessera sql -config tessera.yaml -query users.yaml -op count
//	tessera ping -config tessera.yaml -table users
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/syssam/tessera/config"
	"github.com/syssam/tessera/dialect"
	"github.com/syssam/tessera/dialect/mysql"
	"github.com/syssam/tessera/dialect/sqlite"
)

// builder is the statement API shared by the dialect builders.
type builder interface {
	Create(data map[string]any, opts *dialect.Options) (string, []any, error)
	Find(opts *dialect.Options) (string, []any, error)
	Update(data map[string]any, opts *dialect.Options) (string, []any, error)
	Destroy(opts *dialect.Options) (string, []any, error)
	Count(opts *dialect.Options) (string, []any, error)
	Interpolate(query string, args []any) string
}

var (
	_ builder = (*mysql.Builder)(nil)
	_ builder = (*sqlite.Builder)(nil)
)

var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		slog.Error("tessera", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "sql":
		return runSQL(args[1:], w)
	case "ping":
		return runPing(ctx, args[1:], w)
	default:
		return errUsage
	}
}

func runSQL(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("sql", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", "", "path to the YAML config")
	queryPath := fs.String("query", "", "path to the YAML query")
	op := fs.String("op", "find", "statement: find, count, create, update or destroy")
	interpolate := fs.Bool("interpolate", false, "print the SQL with the arguments inlined")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *queryPath == "" {
		return fmt.Errorf("%w: missing -query", errUsage)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	q, err := readQuery(*queryPath)
	if err != nil {
		return err
	}
	query, qargs, err := build(newBuilder(cfg), *op, q)
	if err != nil {
		return err
	}
	if *interpolate {
		_, err = fmt.Fprintln(w, newBuilder(cfg).Interpolate(query, qargs))
		return err
	}
	if _, err := fmt.Fprintln(w, query); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%v\n", qargs)
	return err
}

func newBuilder(cfg *config.Config) builder {
	if cfg.Dialect == dialect.MySQL {
		return mysql.NewBuilder()
	}
	return &sqlite.Builder{DetectTypes: cfg.TypeDetection}
}

func build(b builder, op string, q *queryFile) (string, []any, error) {
	opts := q.Options()
	switch op {
	case "find":
		return b.Find(opts)
	case "count":
		return b.Count(opts)
	case "destroy":
		return b.Destroy(opts)
	case "create", "update":
		data, err := q.Values()
		if err != nil {
			return "", nil, err
		}
		if op == "create" {
			return b.Create(data, opts)
		}
		return b.Update(data, opts)
	default:
		return "", nil, fmt.Errorf("%w: unknown op %q", errUsage, op)
	}
}

func runPing(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", "", "path to the YAML config")
	table := fs.String("table", "", "table whose rows are counted")
	timeout := fs.Duration("timeout", 5*time.Second, "connection timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	client, err := config.Open(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	start := time.Now()
	name := *table
	if name == "" {
		name = "sqlite_master"
		if cfg.Dialect == dialect.MySQL {
			name = "information_schema.tables"
		}
	}
	n, err := client.Driver().Count(ctx, &dialect.Options{Table: name})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: ok, %d rows in %s (%s)\n", cfg.Dialect, n, name, time.Since(start).Round(time.Millisecond))
	return err
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tessera <command> [flags]

Commands:
  sql    -query q.yaml [-config c.yaml] [-op find|count|create|update|destroy] [-interpolate]
         Print the SQL and arguments of a query without connecting
  ping   [-config c.yaml] [-table name] [-timeout 5s]
         Open the configured connection and count the rows of a table`)
}
