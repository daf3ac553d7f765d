package schema

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlanon/internal/config"
	"sqlanon/internal/core"
)

const testSchema = `
CREATE TABLE people (
  id INT NOT NULL AUTO_INCREMENT,
  name VARCHAR(64),
  email VARCHAR(128),
  PRIMARY KEY (id)
);

CREATE TABLE audit_2024 (
  actor VARCHAR(64)
);
`

func loadConfig(t *testing.T, content string) *core.Config {
	t.Helper()
	cfg, err := config.Load(strings.NewReader(content))
	require.NoError(t, err)
	return cfg
}

func TestCheckMatchingConfig(t *testing.T) {
	cfg := loadConfig(t, `
secret = "s"

[[tables]]
name = "people"

  [[tables.fields]]
  column = "name"
  type = "texthash"
  length = 8

  [[tables.fields]]
  column = "email"
  type = "emailhash"
  length = 6
  domain = "example.com"

[[tables]]
name = "audit_.*"
regex = true

  [[tables.fields]]
  column = "actor"
  type = "texthash"
  length = 6
`)

	findings, err := NewChecker().Check(cfg, testSchema)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheckMissingTable(t *testing.T) {
	cfg := loadConfig(t, `
[[tables]]
name = "ghosts"
action = "truncate"
`)

	findings, err := NewChecker().Check(cfg, testSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], `table "ghosts" not found`)
}

func TestCheckMissingColumn(t *testing.T) {
	cfg := loadConfig(t, `
[[tables]]
name = "people"

  [[tables.fields]]
  column = "nickname"
  type = "substring"
  length = 3
`)

	findings, err := NewChecker().Check(cfg, testSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Regexp(t, regexp.MustCompile(`column "nickname" not found`), findings[0])
}

func TestCheckColumnNameCaseInsensitive(t *testing.T) {
	cfg := loadConfig(t, `
[[tables]]
name = "people"

  [[tables.fields]]
  column = "Email"
  type = "substring"
  length = 3
`)

	findings, err := NewChecker().Check(cfg, testSchema)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheckInvalidSchema(t *testing.T) {
	cfg := loadConfig(t, `
[[tables]]
name = "people"

  [[tables.fields]]
  column = "name"
  type = "substring"
  length = 3
`)

	_, err := NewChecker().Check(cfg, "CREATE TABLE people (")
	assert.Error(t, err)
}
