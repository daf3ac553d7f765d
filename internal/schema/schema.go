// Package schema cross-checks the anonymization configuration against a
// schema dump before any data is processed. It uses TiDB's parser, so both
// MySQL syntax and TiDB-specific options are accepted.
package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"sqlanon/internal/core"
)

// Checker verifies that configured tables and columns exist in a schema.
type Checker struct {
	p *parser.Parser
}

// NewChecker creates a checker with a fresh parser instance.
func NewChecker() *Checker {
	return &Checker{p: parser.New()}
}

// CheckFile reads a schema file and reports configuration entries that do
// not resolve against it.
func (c *Checker) CheckFile(cfg *core.Config, path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %q: %w", path, err)
	}
	return c.Check(cfg, string(content))
}

// Check parses the CREATE TABLE statements in sql and returns one finding
// per configured table or column that the schema does not define. An empty
// result means the configuration fully matches the schema.
func (c *Checker) Check(cfg *core.Config, sql string) ([]string, error) {
	stmtNodes, _, err := c.p.Parse(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("schema: parse error: %w", err)
	}

	tables := make(map[string]map[string]bool)
	for _, stmt := range stmtNodes {
		create, ok := stmt.(*ast.CreateTableStmt)
		if !ok {
			continue
		}
		cols := make(map[string]bool, len(create.Cols))
		for _, colDef := range create.Cols {
			cols[colDef.Name.Name.L] = true
		}
		tables[create.Table.Name.O] = cols
	}

	var findings []string
	for _, rule := range cfg.Tables {
		matched := c.matchRule(rule, tables, &findings)
		if !matched {
			findings = append(findings, fmt.Sprintf("table %q not found in schema", rule.Key))
		}
	}
	return findings, nil
}

func (c *Checker) matchRule(rule *core.TableRule, tables map[string]map[string]bool, findings *[]string) bool {
	matched := false
	for name, cols := range tables {
		if !rule.Matches(name) {
			continue
		}
		matched = true
		if rule.Action != core.ActionAnonymize {
			continue
		}
		for _, fname := range rule.FieldOrder {
			fr := rule.Fields[fname]
			if !cols[strings.ToLower(fr.Name)] {
				*findings = append(*findings,
					fmt.Sprintf("table %q: column %q not found in schema", name, fr.Name))
			}
		}
	}
	return matched
}
