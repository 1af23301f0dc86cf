// Package schemaviz builds the node/edge graph of the public schema from the
// information_schema catalogs.
package schemaviz

import (
	"context"
	"sort"
	"strings"

	"github.com/selfdb-io/selfdb/internal/db"
)

// systemTables are hidden from the graph along with anything carrying a pg_
// or underscore prefix.
var systemTables = map[string]bool{
	"refresh_tokens": true, "sql_history": true, "sql_snippets": true,
	"system_config": true, "webhook_deliveries": true, "function_executions": true,
	"function_logs": true,
}

// Column is one column on a graph node.
type Column struct {
	ColumnName    string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	ColumnDefault *string `json:"column_default"`
	IsPrimaryKey  bool    `json:"is_primary_key"`
}

// Node is one visible base table.
type Node struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Columns     []Column `json:"columns"`
	PrimaryKeys []string `json:"primary_keys"`
}

// Edge is one foreign key between two visible nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
}

// Graph is the visualization payload.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func visible(name string) bool {
	if systemTables[name] {
		return false
	}
	return !strings.HasPrefix(name, "pg_") && !strings.HasPrefix(name, "_")
}

// Build reads the catalogs and assembles the graph. Edges whose endpoint is
// filtered out are dropped with it.
func Build(ctx context.Context, q db.Querier) (*Graph, error) {
	names, err := baseTables(ctx, q)
	if err != nil {
		return nil, err
	}
	nodeSet := map[string]bool{}
	graph := &Graph{Nodes: []Node{}, Edges: []Edge{}}
	for _, name := range names {
		if !visible(name) {
			continue
		}
		nodeSet[name] = true
	}

	pks, err := primaryKeys(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if !nodeSet[name] {
			continue
		}
		cols, err := tableColumns(ctx, q, name, pks[name])
		if err != nil {
			return nil, err
		}
		graph.Nodes = append(graph.Nodes, Node{
			ID: name, Label: name, Columns: cols, PrimaryKeys: sortedKeys(pks[name]),
		})
	}

	edges, err := foreignKeys(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if nodeSet[e.Source] && nodeSet[e.Target] {
			graph.Edges = append(graph.Edges, e)
		}
	}
	return graph, nil
}

func baseTables(ctx context.Context, q db.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func primaryKeys(ctx context.Context, q db.Querier) (map[string]map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT tc.table_name, kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 WHERE tc.table_schema = 'public' AND tc.constraint_type = 'PRIMARY KEY'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]map[string]bool{}
	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, err
		}
		if out[table] == nil {
			out[table] = map[string]bool{}
		}
		out[table][col] = true
	}
	return out, rows.Err()
}

func tableColumns(ctx context.Context, q db.Querier, table string, pk map[string]bool) ([]Column, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name, data_type, column_default
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := []Column{}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.ColumnDefault); err != nil {
			return nil, err
		}
		c.IsPrimaryKey = pk[c.ColumnName]
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func foreignKeys(ctx context.Context, q db.Querier) ([]Edge, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT tc.constraint_name, tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		 JOIN information_schema.constraint_column_usage ccu
		   ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		 WHERE tc.table_schema = 'public' AND tc.constraint_type = 'FOREIGN KEY'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := []Edge{}
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.Source, &e.SourceColumn, &e.Target, &e.TargetColumn); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
