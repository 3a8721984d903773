package clinic

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// schemaStatements returns the DDL for a dialect split into single statements.
func schemaStatements(dialect string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return nil, fmt.Errorf("schema for %q: %w", dialect, err)
	}

	var stmts []string
	for _, part := range strings.Split(string(raw), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}
