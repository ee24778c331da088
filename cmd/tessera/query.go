package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/tessera/dialect"
)

// queryFile is the YAML form of dialect.Options.
//
//	table: users
//	where:
//	  - field: age
//	    value: {gte: 18}
//	  - field: role
//	    value: [admin, owner]
//	    type: or
//	order_by: name DESC
//	limit: 10
type queryFile struct {
	Table    string         `yaml:"table"`
	Select   []string       `yaml:"select"`
	Distinct bool           `yaml:"distinct"`
	Where    []condFile     `yaml:"where"`
	Joins    []joinFile     `yaml:"joins"`
	OrderBy  string         `yaml:"order_by"`
	GroupBy  string         `yaml:"group_by"`
	Limit    int            `yaml:"limit"`
	Offset   int            `yaml:"offset"`
	Columns  []string       `yaml:"columns"`
	Data     map[string]any `yaml:"data"`
}

type condFile struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
	Type  string `yaml:"type"`
}

type joinFile struct {
	Table   string   `yaml:"table"`
	As      string   `yaml:"as"`
	On      []string `yaml:"on"`
	Type    string   `yaml:"type"`
	Columns []string `yaml:"columns"`
}

func readQuery(path string) (*queryFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseQuery(b)
}

func parseQuery(b []byte) (*queryFile, error) {
	q := &queryFile{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(q); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("query: %w", err)
	}
	return q, nil
}

// Options converts the file into query options. Mapping values of a
// condition become operator maps.
func (q *queryFile) Options() *dialect.Options {
	opts := &dialect.Options{
		Table:    q.Table,
		Select:   q.Select,
		Distinct: q.Distinct,
		OrderBy:  q.OrderBy,
		GroupBy:  q.GroupBy,
		Limit:    q.Limit,
		Offset:   q.Offset,
		Columns:  q.Columns,
	}
	for _, c := range q.Where {
		v := c.Value
		if m, ok := v.(map[string]any); ok {
			v = dialect.Ops(m)
		}
		opts.Where = append(opts.Where, dialect.Cond{Field: c.Field, Value: v, Type: c.Type})
	}
	for _, j := range q.Joins {
		opts.Joins = append(opts.Joins, dialect.Join{Table: j.Table, As: j.As, On: j.On, Type: j.Type, Columns: j.Columns})
	}
	return opts
}

// Values returns the data of create and update statements. The mappings
// {increment: n} and {decrement: n} become update directives.
func (q *queryFile) Values() (map[string]any, error) {
	data := make(map[string]any, len(q.Data))
	for k, v := range q.Data {
		m, ok := v.(map[string]any)
		if !ok {
			data[k] = v
			continue
		}
		if len(m) != 1 {
			return nil, fmt.Errorf("query: data %q: expect a single directive", k)
		}
		switch n, ok := m["increment"]; {
		case ok:
			data[k] = dialect.Increment(n)
		case m["decrement"] != nil:
			data[k] = dialect.Decrement(m["decrement"])
		default:
			return nil, fmt.Errorf("query: data %q: unknown directive", k)
		}
	}
	return data, nil
}
