package migrations

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	chstore "dlmm-risk-manager/internal/storage/clickhouse"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunClickhouseMigrations creates database if needed, applies the embedded
// verdict history schema and returns a connection to database.
// ClickHouse DDL here is idempotent (IF NOT EXISTS), so no version table is kept.
func RunClickhouseMigrations(ctx context.Context, dsn, database string) (*chstore.Conn, error) {
	if !identifier.MatchString(database) {
		return nil, fmt.Errorf("invalid clickhouse database name %q", database)
	}

	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+database); err != nil {
		admin.Close()
		return nil, fmt.Errorf("create database %s: %w", database, err)
	}
	if err := admin.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, database)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", database, err)
	}

	for _, m := range files {
		stmts, err := splitStatements(m.SQL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
	}
	return conn, nil
}

// splitStatements drops -- comment lines and splits on semicolons. A
// semicolon inside a single-quoted literal is rejected rather than split.
func splitStatements(input string) ([]string, error) {
	var lines []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}
	body := strings.Join(lines, "\n")

	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '\'' && quoted && i+1 < len(body) && body[i+1] == '\'':
			current.WriteString("''")
			i++
			continue
		case ch == '\'':
			quoted = !quoted
		case ch == ';' && quoted:
			return nil, fmt.Errorf("semicolon inside string literal")
		case ch == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}
