// Package migrations holds the embedded schema of the durable cache tier and
// the snapshot history, and applies it through a driver-agnostic ExecFunc.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// ErrSemicolonInLiteral is returned for ClickHouse files the splitter cannot
// handle.
var ErrSemicolonInLiteral = errors.New("semicolon inside string literal")

// ExecFunc runs one SQL statement.
type ExecFunc func(ctx context.Context, stmt string) error

// Migration is one embedded file, already split into executable statements.
type Migration struct {
	Name       string
	Statements []string
}

// Postgres returns the cache_entries schema. pgx runs a whole file in one
// simple-protocol Exec, so each file is a single statement.
func Postgres() ([]Migration, error) {
	return load(postgresFS, "postgres", func(sql string) ([]string, error) {
		return []string{sql}, nil
	})
}

// Clickhouse returns the supply_snapshots schema. The native protocol takes
// one statement per Exec, so files are split on semicolons.
func Clickhouse() ([]Migration, error) {
	return load(clickhouseFS, "clickhouse", splitStatements)
}

// Apply runs every statement of ms in order and stops at the first failure.
func Apply(ctx context.Context, exec ExecFunc, ms []Migration) error {
	for _, m := range ms {
		for _, stmt := range m.Statements {
			if err := exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	return nil
}

func load(fsys fs.FS, dir string, split func(string) ([]string, error)) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []Migration
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := strings.TrimSpace(string(data))
		if sql == "" {
			continue
		}
		stmts, err := split(sql)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		out = append(out, Migration{Name: path.Base(name), Statements: stmts})
	}
	return out, nil
}

// splitStatements drops "--" comment lines and splits on ';'. Quoted
// semicolons are rejected rather than mis-split.
func splitStatements(sql string) ([]string, error) {
	var b strings.Builder
	quoted := false
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			switch c := line[i]; {
			case c == '\'' && quoted && i+1 < len(line) && line[i+1] == '\'':
				b.WriteString("''")
				i++
			case c == '\'':
				quoted = !quoted
				b.WriteByte(c)
			case c == ';' && quoted:
				return nil, ErrSemicolonInLiteral
			default:
				b.WriteByte(c)
			}
		}
		b.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}
